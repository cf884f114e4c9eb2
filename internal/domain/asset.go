package domain

import "time"

// Asset is an uploaded seed image usable as img2img input.
type Asset struct {
	ID               string
	OriginalFilename string
	MIMEType         string
	FilePath         string
	CreatedAt        time.Time
}
