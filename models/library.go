package models

// LibraryMatch is what the duplicate check returns for display.
type LibraryMatch struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}
