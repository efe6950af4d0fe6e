// Package artifact holds the output handle shared by export and report jobs.
package artifact

// Artifact is a finished job output.
type Artifact struct {
	Data      []byte
	MediaType string
	Filename  string
}

func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}
