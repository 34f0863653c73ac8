package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

type User struct {
	ID           uint64
	Username     string
	PasswordHash []byte
}

type UserStore interface {
	CreateUser(ctx context.Context, username string, passwordHash []byte) (uint64, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

type UserRow struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"column:username;size:64;uniqueIndex"`
	PasswordHash []byte    `gorm:"column:password_hash"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (UserRow) TableName() string { return "users" }

func (s *MySQLStore) CreateUser(ctx context.Context, username string, passwordHash []byte) (uint64, error) {
	row := UserRow{Username: username, PasswordHash: passwordHash}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return 0, ErrUsernameTaken
		}
		return 0, fmt.Errorf("create user %s: %w", username, err)
	}
	return row.ID, nil
}

func (s *MySQLStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	var row UserRow
	err := s.db.WithContext(ctx).First(&row, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return &User{ID: row.ID, Username: row.Username, PasswordHash: row.PasswordHash}, nil
}

// memory 实现

func (m *MemoryStore) CreateUser(ctx context.Context, username string, passwordHash []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return 0, ErrUsernameTaken
		}
	}
	id := uint64(len(m.users) + 1)
	m.users = append(m.users, User{ID: id, Username: username, PasswordHash: passwordHash})
	return id, nil
}

func (m *MemoryStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}
