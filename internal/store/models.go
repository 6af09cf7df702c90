package store

import "time"

// Account is one upstream credential. The password is stored as a Fernet
// token; access_token is the raw upstream JWT. Accounts are never deleted,
// only deactivated.
type Account struct {
	ID          uint   `gorm:"primaryKey"`
	Email       string `gorm:"size:50;uniqueIndex"`
	Password    string `gorm:"size:120"`
	AccessToken string `gorm:"type:text"`
	PUID        string `gorm:"size:120;column:puid"`
	IsActive    bool   `gorm:"default:true"`
}

func (Account) TableName() string { return "accounts" }

// Conversation is one upstream thread owned by an account. CurrentNode is
// the id of the latest assistant message, used as parent_message_id on the
// next turn.
type Conversation struct {
	ID             uint      `gorm:"primaryKey"`
	ConversationID string    `gorm:"size:40;uniqueIndex"`
	CurrentNode    string    `gorm:"size:40;not null"`
	Title          string    `gorm:"size:50;default:''"`
	CreateTime     time.Time `gorm:"autoCreateTime"`
	UpdateTime     time.Time `gorm:"autoUpdateTime"`
	IsActive       bool      `gorm:"default:true"`
	OwnerEmail     string    `gorm:"size:50;not null;index"`
	UserID         uint
	Status         int8 `gorm:"default:1;not null"`
}

func (Conversation) TableName() string { return "conversations" }

// Conversation status values.
const (
	ConversationStatusActive int8 = 1
	ConversationStatusLost   int8 = 0
)

// Message records one assistant message for audit. Author holds the raw
// author object as JSON.
type Message struct {
	ID             uint   `gorm:"primaryKey"`
	MessageID      string `gorm:"size:40;uniqueIndex"`
	Author         string `gorm:"type:json"`
	ParentID       string `gorm:"size:40"`
	ConversationID string `gorm:"size:40;index"`
}

func (Message) TableName() string { return "messages" }

// User is one end user of the gateway, identified by an opaque openid.
// ConversationID is the anchor of the thread their next turn resumes;
// empty means the next turn starts a fresh conversation.
type User struct {
	ID             uint   `gorm:"primaryKey"`
	OpenID         string `gorm:"size:100;uniqueIndex;column:openid"`
	ConversationID string `gorm:"size:40;not null"`
}

func (User) TableName() string { return "users" }
