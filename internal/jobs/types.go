package jobs

const (
	// TaskTypePasswordReset は固定ユーザー名のパスワードリセットです。
	TaskTypePasswordReset = "auth:password-reset"
	// QueueAuth は認証関連タスクのキュー名です。
	QueueAuth = "auth"
)

// ResetPayload はリセットタスクのペイロードです。
// 対象かどうかの判定はワーカー側で行うため、受け取ったユーザー名をそのまま載せます。
type ResetPayload struct {
	Username string `json:"username"`
}
