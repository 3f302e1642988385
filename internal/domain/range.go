package domain

import "net/http"

// Range is the byte window answered for one request. End is inclusive.
type Range struct {
	Start  int64
	End    int64
	Status int
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

func (r Range) Partial() bool {
	return r.Status == http.StatusPartialContent
}
