package migration_1

import (
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Transcription struct {
	Segments datatypes.JSON
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&Transcription{}, "segments"); err != nil {
		return fmt.Errorf("error adding segments column: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&Transcription{}, "segments"); err != nil {
		return fmt.Errorf("error dropping segments column: %w", err)
	}
	return nil
}
