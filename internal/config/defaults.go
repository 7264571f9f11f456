package config

import _ "embed"

// SampleConfig is the commented configuration written by -new.
//
//go:embed config.sample.yaml
var SampleConfig []byte

var defaults = map[string]any{
	"group":        "",
	"session_path": "session.json",
	"db_path":      "data.sqlite",
	"phone":        "",

	"download_avatars": true,
	"avatar_size":      []int{64, 64},

	"download_media":   true,
	"media_dir":        "media",
	"media_tmp_dir":    "media/tmp",
	"thumbnails_dir":   "",
	"media_mime_types": []string{},

	"proxy.enable":   false,
	"proxy.protocol": "socks5",
	"proxy.addr":     "",
	"proxy.port":     0,
	"proxy.username": "",
	"proxy.password": "",

	"use_takeout":      false,
	"fetch_batch_size": 100,
	"fetch_wait":       5,
	"fetch_limit":      0,

	"timezone": "",
	"per_page": 1000,

	"log.level": "info",
	"log.json":  false,

	"watch.schedule":             "0 * * * *",
	"watch.maintenance_schedule": "30 4 * * 0",

	"notify.bot_token": "",
	"notify.chat_id":   0,

	"metrics.listen": "",
}
