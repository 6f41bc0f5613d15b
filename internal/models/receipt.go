package models

// Outcome описывает результат проверки завершённости после очередного чанка.
type Outcome string

const (
	OutcomeIncomplete       Outcome = "incomplete"
	OutcomePublished        Outcome = "published"
	OutcomeAlreadyPublished Outcome = "already_published"
)

// ChunkReceipt возвращается движком на каждый чанк.
type ChunkReceipt struct {
	Identifier  string  `json:"identifier"`
	ChunkNumber int     `json:"chunkNumber,omitempty"`
	Accepted    bool    `json:"accepted"`
	Duplicate   bool    `json:"duplicate,omitempty"`
	Completed   bool    `json:"completed"`
	Outcome     Outcome `json:"outcome,omitempty"`
	Status      Status  `json:"status,omitempty"`
	Received    int     `json:"received"`
	TotalChunks int     `json:"totalChunks"`
	Path        string  `json:"-"`
	PublicName  string  `json:"publicName,omitempty"`
	Checksum    string  `json:"sha256,omitempty"`
	Kind        Kind    `json:"kind,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// Reject заполняет квитанцию отказа по ошибке.
func (r ChunkReceipt) Reject(err error) ChunkReceipt {
	r.Accepted = false
	r.Completed = false
	r.Kind = KindOf(err)
	r.Message = err.Error()
	return r
}

// CheckResult отвечает на предварительную проверку перед загрузкой.
type CheckResult struct {
	Identifier  string `json:"identifier"`
	SkipUpload  bool   `json:"skipUpload"`
	Uploaded    []int  `json:"uploadedChunks"`
	Status      Status `json:"status,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	PublicName  string `json:"publicName,omitempty"`
}
