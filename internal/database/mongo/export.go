package mongo

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/identity"
)

// Export is a JSON dump of both collections: {"records": [...], "faces": [...]}.
type Export struct {
	Records  []attendance.Record
	Profiles []identity.Profile
}

type exportFile struct {
	Records []recordDocument `json:"records"`
	Faces   []faceDocument   `json:"faces"`
}

// ReadExport decodes a JSON dump. Faces with the same name are merged in
// order; records repeating a (date, userName) key keep the last occurrence.
func ReadExport(r io.Reader) (*Export, error) {
	var file exportFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}

	out := &Export{}
	seen := make(map[attendance.Key]int, len(file.Records))
	for i, doc := range file.Records {
		rec, err := doc.record()
		if err != nil {
			return nil, fmt.Errorf("records[%d]: %w", i, err)
		}
		rec.Identity = identity.NormalizeIdentity(rec.Identity)
		if rec.Date == "" || rec.Identity == "" {
			return nil, fmt.Errorf("records[%d]: date and userName are required", i)
		}
		if j, ok := seen[rec.Key()]; ok {
			out.Records[j] = rec
			continue
		}
		seen[rec.Key()] = len(out.Records)
		out.Records = append(out.Records, rec)
	}

	byName := make(map[string]int, len(file.Faces))
	for i, doc := range file.Faces {
		p := doc.profile()
		p.Identity = identity.NormalizeIdentity(p.Identity)
		if p.Identity == "" {
			return nil, fmt.Errorf("faces[%d]: name is required", i)
		}
		if j, ok := byName[p.Identity]; ok {
			existing := &out.Profiles[j]
			for _, s := range p.Samples {
				s.ID = sampleID(existing.Identity, len(existing.Samples))
				existing.Samples = append(existing.Samples, s)
			}
			continue
		}
		byName[p.Identity] = len(out.Profiles)
		out.Profiles = append(out.Profiles, p)
	}
	return out, nil
}
