package index

// Posting records how often a term occurs in one document and where.
type Posting struct {
	DocID     string
	Frequency int
	Positions []int
}

type PostingList []Posting

// TermEntry is the complete posting list of one field-qualified term.
type TermEntry struct {
	Field    string
	Term     string
	Postings PostingList
}

type termKey struct {
	field string
	term  string
}
