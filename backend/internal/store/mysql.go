package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gorm 模型

type documentRow struct {
	DocID        string    `gorm:"column:doc_id;primaryKey;size:64"`
	Content      string    `gorm:"column:content;type:longtext"`
	Version      uint64    `gorm:"column:version"`
	LastModified time.Time `gorm:"column:last_modified"`
}

func (documentRow) TableName() string { return "documents" }

type operationRow struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	OpID        string    `gorm:"column:op_id;size:64;index"`
	DocID       string    `gorm:"column:doc_id;size:64;index:idx_doc_version"`
	Version     uint64    `gorm:"column:version;index:idx_doc_version"`
	Seq         int       `gorm:"column:seq"`
	Kind        string    `gorm:"column:kind;size:16"`
	Position    int       `gorm:"column:position"`
	Length      int       `gorm:"column:length"`
	Content     string    `gorm:"column:content;type:text"`
	AuthorID    uint64    `gorm:"column:author_id"`
	BaseVersion uint64    `gorm:"column:base_version"`
	Timestamp   time.Time `gorm:"column:ts"`
}

func (operationRow) TableName() string { return "document_operations" }

type snapshotRow struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	DocID     string    `gorm:"column:doc_id;size:64;uniqueIndex:uniq_doc_rev"`
	Version   uint64    `gorm:"column:version;uniqueIndex:uniq_doc_rev"`
	Content   string    `gorm:"column:content;type:longtext"`
	AuthorID  uint64    `gorm:"column:author_id"`
	Message   string    `gorm:"column:message;size:255"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (snapshotRow) TableName() string { return "document_snapshots" }

type conflictRow struct {
	ConflictID string    `gorm:"column:conflict_id;primaryKey;size:64"`
	DocID      string    `gorm:"column:doc_id;size:64;index"`
	Strategy   string    `gorm:"column:strategy;size:32"`
	WinnerOpID string    `gorm:"column:winner_op_id;size:64"`
	Detail     string    `gorm:"column:detail;type:text"`
	ResolvedAt time.Time `gorm:"column:resolved_at"`
}

func (conflictRow) TableName() string { return "conflict_audit" }

type MySQLStore struct {
	db *gorm.DB
}

func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func NewMySQLStore(db *gorm.DB) (*MySQLStore, error) {
	if err := db.AutoMigrate(&documentRow{}, &operationRow{}, &snapshotRow{}, &conflictRow{}, &UserRow{}); err != nil {
		return nil, err
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) LoadDocument(ctx context.Context, docID string) (*DocumentRecord, error) {
	var row documentRow
	err := s.db.WithContext(ctx).First(&row, "doc_id = ?", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", docID, err)
	}
	return &DocumentRecord{
		DocID:        row.DocID,
		Content:      row.Content,
		Version:      row.Version,
		LastModified: row.LastModified,
	}, nil
}

func (s *MySQLStore) LoadOperations(ctx context.Context, docID string, fromVersion uint64, limit int) ([]OperationRecord, error) {
	q := s.db.WithContext(ctx).
		Where("doc_id = ? AND version > ?", docID, fromVersion).
		Order("version ASC, seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []operationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load operations %s: %w", docID, err)
	}
	out := make([]OperationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, OperationRecord{
			OpID:        r.OpID,
			DocID:       r.DocID,
			Version:     r.Version,
			Seq:         r.Seq,
			Kind:        r.Kind,
			Position:    r.Position,
			Length:      r.Length,
			Content:     r.Content,
			AuthorID:    r.AuthorID,
			BaseVersion: r.BaseVersion,
			Timestamp:   r.Timestamp,
		})
	}
	return out, nil
}

func (s *MySQLStore) SaveDocument(ctx context.Context, doc DocumentRecord, ops []OperationRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := documentRow{
			DocID:        doc.DocID,
			Content:      doc.Content,
			Version:      doc.Version,
			LastModified: doc.LastModified,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "doc_id"}},
			UpdateAll: true,
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("save document %s: %w", doc.DocID, err)
		}
		for _, op := range ops {
			opRow := operationRow{
				OpID:        op.OpID,
				DocID:       op.DocID,
				Version:     op.Version,
				Seq:         op.Seq,
				Kind:        op.Kind,
				Position:    op.Position,
				Length:      op.Length,
				Content:     op.Content,
				AuthorID:    op.AuthorID,
				BaseVersion: op.BaseVersion,
				Timestamp:   op.Timestamp,
			}
			if err := tx.Create(&opRow).Error; err != nil {
				return fmt.Errorf("append operation %s: %w", op.OpID, err)
			}
		}
		return nil
	})
}

func (s *MySQLStore) SaveSnapshot(ctx context.Context, docID string, version uint64, content string, authorID uint64, message string) error {
	row := snapshotRow{
		DocID:     docID,
		Version:   version,
		Content:   content,
		AuthorID:  authorID,
		Message:   message,
		CreatedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		// 1062 = duplicate key：同版本快照已存在，不算失败
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return fmt.Errorf("save snapshot %s@%d: %w", docID, version, err)
	}
	return nil
}

func (s *MySQLStore) SaveConflict(ctx context.Context, rec ConflictRecord) error {
	row := conflictRow{
		ConflictID: rec.ConflictID,
		DocID:      rec.DocID,
		Strategy:   rec.Strategy,
		WinnerOpID: rec.WinnerOpID,
		Detail:     rec.Detail,
		ResolvedAt: rec.ResolvedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save conflict %s: %w", rec.ConflictID, err)
	}
	return nil
}
