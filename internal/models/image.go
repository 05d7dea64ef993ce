package models

import "time"

type UploadSource string

const (
	UploadSourceWeb UploadSource = "web"
	UploadSourceAPI UploadSource = "api"
	UploadSourceURL UploadSource = "url"
)

type Image struct {
	ID           string
	OriginalName string
	Filename     string
	Format       string
	SizeBytes    int64
	Width        int
	Height       int
	IsDeleted    bool
	UploadedBy   string
	UploadSource UploadSource
	SourceURL    string
	IP           string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
