package domain

// MultipartUpload: загрузка по частям, начатая в хранилище объектов
type MultipartUpload struct {
	Key      string `json:"key"`
	UploadID string `json:"uploadId"`
}

// UploadedPart: ответ на загрузку одной части
type UploadedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// CompleteMultipartRequest: тело запроса POST /multipart/complete
type CompleteMultipartRequest struct {
	Parts []UploadedPart `json:"parts"`
}
