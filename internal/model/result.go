package model

// FailedRow is one row that could not be committed.
type FailedRow struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportResult is the exact tally of a commit.
// Inserted + Updated + Skipped + Failed always equals the number of rows
// handed to the committer that were attempted.
type ImportResult struct {
	Inserted   int         `json:"inserted"`
	Updated    int         `json:"updated"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	FailedRows []FailedRow `json:"failed_rows"`
}

// Total is the number of rows accounted for.
func (r ImportResult) Total() int {
	return r.Inserted + r.Updated + r.Skipped + r.Failed
}

// Fail records a hard failure for the given spreadsheet row.
func (r *ImportResult) Fail(fileRow int, msg string) {
	r.Failed++
	r.FailedRows = append(r.FailedRows, FailedRow{Row: fileRow, Error: msg})
}
