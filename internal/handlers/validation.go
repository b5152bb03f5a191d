package handlers

import "fmt"

// validateRoomId はルームIDのバリデーションを行います
// ルームIDが空の場合はエラーを返します
func validateRoomId(roomId string) error {
	if normalizeID(roomId) == "" {
		return fmt.Errorf("roomId required")
	}
	return nil
}

// originAllowed はハンドシェイクのOriginが許可リストに含まれるかを確認します
// Originヘッダーがない（ブラウザ以外の）クライアントは許可します
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
