package models

// ChatData is the side-channel payload attached to every chat request.
type ChatData struct {
	ReportData string `json:"reportData"`
}

// ChatRequest is the body posted to the chat endpoint.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Data     ChatData  `json:"data"`
}
