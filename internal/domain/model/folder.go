package model

import "time"

// Folder — папка в иерархии (таблица folders).
type Folder struct {
	ID        string
	Name      string
	ParentID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
