package domain

import changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"

// Location points at an archived copy of a match
type Location struct {
	Folder string `json:"folder"`
	File   string `json:"file"`
}

// Entry is one record of the flagged changes log
type Entry struct {
	Filter string              `json:"filter"`
	Change changeDomain.Change `json:"change"`
	Log    *Location           `json:"log,omitempty"`
}
