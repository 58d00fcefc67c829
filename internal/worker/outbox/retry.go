package outbox

import (
	"time"
	"unicode/utf8"
)

const (
	// initialBackoff は指数バックオフの初回遅延（30秒）。
	initialBackoff = 30 * time.Second
	// maxBackoff は指数バックオフの最大遅延（1時間）。
	maxBackoff = time.Hour
	// maxErrorLength は last_error に保存するエラーメッセージの最大バイト数。
	maxErrorLength = 1024
)

// CalculateBackoff は失敗済みの送信試行回数に基づいて次回送信までの遅延を計算する。
// 初回30秒、2倍ずつ増加、最大1時間。
func CalculateBackoff(failedAttempts int) time.Duration {
	delay := initialBackoff
	for i := 1; i < failedAttempts; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// truncateError はDBに保存できる長さにエラーメッセージを切り詰める。
// マルチバイト文字の途中では切らない。
func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
