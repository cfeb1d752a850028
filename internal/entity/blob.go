package entity

import "time"

type BlobInfo struct {
	Ref     string    `json:"file_url"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

type UploadResponse struct {
	FileURL string `json:"file_url"`
}
