package questions

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// QuestionRow maps the questions table. Options are stored as a JSON array.
type QuestionRow struct {
	ID            string `gorm:"primaryKey"`
	Level         string `gorm:"not null;index"`
	Points        int    `gorm:"not null"`
	Prompt        string `gorm:"not null"`
	Options       string `gorm:"type:jsonb;not null"`
	CorrectAnswer int    `gorm:"not null"`
	Popup         string
}

func (QuestionRow) TableName() string { return "questions" }

func (r QuestionRow) record() (Record, error) {
	var opts []string
	if err := json.Unmarshal([]byte(r.Options), &opts); err != nil {
		return Record{}, fmt.Errorf("question %q: decode options: %w", r.ID, err)
	}
	return Record{
		ID:            r.ID,
		Level:         r.Level,
		Points:        r.Points,
		Prompt:        r.Prompt,
		Options:       opts,
		CorrectAnswer: r.CorrectAnswer,
		Popup:         r.Popup,
	}, nil
}

// LoadPostgres reads the whole questions table once and builds a Bank from it.
func LoadPostgres(ctx context.Context, dsn string) (*Bank, error) {
	return load(ctx, postgres.Open(dsn))
}

func load(ctx context.Context, dialector gorm.Dialector) (*Bank, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres handle: %w", err)
	}
	defer sqlDB.Close()

	return loadRows(db.WithContext(ctx))
}

func loadRows(db *gorm.DB) (*Bank, error) {
	var rows []QuestionRow
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return New(records)
}
