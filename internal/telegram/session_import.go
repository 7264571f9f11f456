package telegram

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	tdsession "github.com/gotd/td/session"
	"github.com/gotd/td/tg"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrUnsupportedSessionFormat is returned when session data can't be recognised.
var ErrUnsupportedSessionFormat = errors.New("unsupported session format")

var sqliteMagic = []byte("SQLite format 3\x00")

// ImportSession converts the session at src into the JSON session file
// used by this tool and writes it atomically to dst. Accepted inputs are a
// Telethon SQLite .session file, a Telethon string session, a Telethon
// JSON export and a gotd JSON session. It reports whether a conversion
// was needed.
func ImportSession(src, dst string) (bool, error) {
	raw, err := os.ReadFile(src)
	if err != nil {
		return false, fmt.Errorf("failed to read session %s: %w", src, err)
	}

	var (
		data      []byte
		converted bool
	)
	if bytes.HasPrefix(raw, sqliteMagic) {
		data, err = convertTelethonSQLite(src)
		converted = true
	} else {
		data, converted, err = NormalizeSessionBytes(raw)
	}
	if err != nil {
		return false, err
	}

	if err := writeFileAtomic(dst, data); err != nil {
		return false, fmt.Errorf("failed to write session %s: %w", dst, err)
	}
	return converted, nil
}

// NormalizeSessionBytes converts session blobs from known text formats to
// the JSON format used by gotd session.Storage.
func NormalizeSessionBytes(raw []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("session is empty")
	}

	var gotd struct {
		Version int `json:"Version"`
	}
	if err := json.Unmarshal(trimmed, &gotd); err == nil && gotd.Version != 0 {
		return append([]byte(nil), trimmed...), false, nil
	}
	if converted, err := convertTelethonSessionJSON(trimmed); err == nil {
		return converted, true, nil
	}
	if converted, err := convertTelethonString(trimmed); err == nil {
		return converted, true, nil
	}
	return nil, false, ErrUnsupportedSessionFormat
}

type telethonRow struct {
	DCID          int    `db:"dc_id"`
	ServerAddress string `db:"server_address"`
	Port          int    `db:"port"`
	AuthKey       []byte `db:"auth_key"`
}

func convertTelethonSQLite(path string) ([]byte, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telethon session: %w", err)
	}
	defer db.Close()

	var rows []telethonRow
	if err := db.Select(&rows, `SELECT dc_id, server_address, port, auth_key FROM sessions`); err != nil {
		return nil, fmt.Errorf("failed to read telethon session: %w", err)
	}
	for _, row := range rows {
		if len(row.AuthKey) == 0 || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		return encodeSessionData(row.DCID, row.ServerAddress, row.Port, row.AuthKey)
	}
	return nil, fmt.Errorf("telethon session has no authorized data center")
}

func convertTelethonSessionJSON(raw []byte) ([]byte, error) {
	var rows []struct {
		DCID          int    `json:"dc_id"`
		ServerAddress string `json:"server_address"`
		Port          int    `json:"port"`
		AuthKey       string `json:"auth_key"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		key, err := hex.DecodeString(strings.Trim(strings.TrimSpace(row.AuthKey), "'\""))
		if err != nil {
			return nil, fmt.Errorf("decode auth_key: %w", err)
		}
		return encodeSessionData(row.DCID, row.ServerAddress, row.Port, key)
	}
	return nil, fmt.Errorf("telethon session JSON has no usable rows")
}

func convertTelethonString(raw []byte) ([]byte, error) {
	candidate := strings.Trim(strings.TrimSpace(string(raw)), "\"'\n\r\t")
	if candidate == "" {
		return nil, fmt.Errorf("telethon session string is empty")
	}

	data, err := tdsession.TelethonSession(candidate)
	if err != nil {
		return nil, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, portStr, err := net.SplitHostPort(data.Addr); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
			}
		}
	}
	return marshalSessionData(*data)
}

func encodeSessionData(dcID int, host string, port int, rawKey []byte) ([]byte, error) {
	var key crypto.Key
	if len(rawKey) != len(key) {
		return nil, fmt.Errorf("unexpected auth_key length: %d bytes", len(rawKey))
	}
	copy(key[:], rawKey)

	authKey := make([]byte, len(key))
	copy(authKey, key[:])
	id := key.WithID().ID
	authKeyID := make([]byte, len(id))
	copy(authKeyID, id[:])

	return marshalSessionData(tdsession.Data{
		Config: tdsession.Config{
			ThisDC:    dcID,
			DCOptions: []tg.DCOption{{ID: dcID, IPAddress: host, Port: port}},
		},
		DC:        dcID,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   authKey,
		AuthKeyID: authKeyID,
	})
}

func marshalSessionData(data tdsession.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int            `json:"Version"`
		Data    tdsession.Data `json:"Data"`
	}{Version: 1, Data: data})
}
