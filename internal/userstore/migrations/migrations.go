// Package migrations は admin_users テーブルのスキーマを埋め込みます。
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
