package models

import "time"

// ExchangeCredential - пара API-ключей биржи, зашифрованная в хранилище
//
// APIKey и APISecret лежат в базе зашифрованными (AES-256-GCM, base64).
// Расшифровка происходит только в момент создания клиента биржи.
// BotID == nil означает дефолтные ключи пользователя для всех его ботов.
type ExchangeCredential struct {
	ID     int64  `json:"id" db:"id"`
	UserID int64  `json:"user_id" db:"user_id"`
	BotID  *int64 `json:"bot_id,omitempty" db:"bot_id"`

	APIKey    string `json:"-" db:"api_key"`
	APISecret string `json:"-" db:"api_secret"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
