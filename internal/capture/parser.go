package capture

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"beacongraph/core-go/internal/graph"
	"beacongraph/core-go/internal/taxonomy"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported capture format")
	ErrInvalidDataURL    = errors.New("invalid data url")
	ErrEmptyUpload       = errors.New("empty upload")
)

// RawUpload is one file handed over by either upload surface. Data may be the
// raw file bytes or a browser data URL.
type RawUpload struct {
	Name string
	Data []byte
}

// VendorLookup resolves a MAC address to its manufacturer.
type VendorLookup interface {
	Lookup(mac string) string
}

type Parser struct {
	vendors VendorLookup
}

func NewParser(vendors VendorLookup) *Parser {
	return &Parser{vendors: vendors}
}

// ParseUpload decodes one upload into its data type and typed records.
func (p *Parser) ParseUpload(raw RawUpload) (string, []Record, error) {
	data, err := DecodeDataURL(raw.Data)
	if err != nil {
		return "", nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", nil, ErrEmptyUpload
	}

	switch {
	case trimmed[0] == '{':
		records, err := parseGraphJSON(trimmed)
		if err != nil {
			return "", nil, err
		}
		return DataTypeGraphJSON, records, nil
	case looksLikeAirodump(trimmed):
		records, err := p.parseAirodump(trimmed)
		if err != nil {
			return "", nil, err
		}
		return DataTypeAirodump, records, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, displayName(raw.Name))
	}
}

// DecodeDataURL unwraps "data:<mime>;base64,<payload>". Anything else is
// returned unchanged.
func DecodeDataURL(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte("data:")) {
		return data, nil
	}
	comma := bytes.IndexByte(data, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: missing payload separator", ErrInvalidDataURL)
	}
	meta := string(data[len("data:"):comma])
	payload := data[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return payload, nil
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(out, bytes.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return out[:n], nil
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "<unnamed>"
	}
	return name
}

func looksLikeAirodump(data []byte) bool {
	for _, line := range bytes.Split(data, []byte("\n")) {
		l := strings.TrimSpace(string(line))
		if l == "" {
			continue
		}
		return strings.HasPrefix(l, "BSSID,") || strings.HasPrefix(l, "Station MAC,")
	}
	return false
}

type airodumpSection int

const (
	sectionNone airodumpSection = iota
	sectionAccessPoints
	sectionStations
)

// parseAirodump reads the two-section CSV written by airodump-ng
// (-w prefix --output-format csv). Probed ESSIDs are trailing fields.
func (p *Parser) parseAirodump(data []byte) ([]Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var out []Record
	section := sectionNone
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("airodump csv: %w", err)
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		head := strings.TrimSpace(row[0])
		switch head {
		case "BSSID":
			section = sectionAccessPoints
			continue
		case "Station MAC":
			section = sectionStations
			continue
		}

		switch section {
		case sectionAccessPoints:
			if len(row) < 14 {
				continue
			}
			rec := Record{
				Kind:    RecordAccessPoint,
				BSSID:   field(row, 0),
				Channel: field(row, 3),
				Speed:   field(row, 4),
				Privacy: field(row, 5),
				Cipher:  field(row, 6),
				Auth:    field(row, 7),
				LAN:     normalizeLAN(field(row, 11)),
				ESSID:   field(row, 13),
			}
			rec.OUI = p.vendor(rec.BSSID)
			out = append(out, rec)
		case sectionStations:
			if len(row) < 6 {
				continue
			}
			rec := Record{
				Kind:            RecordStation,
				StationMAC:      field(row, 0),
				AssociatedBSSID: field(row, 5),
			}
			for _, probe := range row[6:] {
				if s := strings.TrimSpace(probe); s != "" {
					rec.Probes = append(rec.Probes, s)
				}
			}
			rec.OUI = p.vendor(rec.StationMAC)
			out = append(out, rec)
		}
	}
	if section == sectionNone {
		return nil, fmt.Errorf("%w: no airodump section header", ErrUnsupportedFormat)
	}
	return out, nil
}

func (p *Parser) vendor(mac string) string {
	if p == nil || p.vendors == nil {
		return ""
	}
	return p.vendors.Lookup(mac)
}

func field(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// normalizeLAN collapses airodump's padded "  0.  0.  0.  0" form; the
// all-zero address means no LAN IP was seen.
func normalizeLAN(raw string) string {
	s := strings.ReplaceAll(raw, " ", "")
	if s == "" || s == "0.0.0.0" {
		return ""
	}
	return s
}

type graphExport struct {
	Nodes []exportNode `json:"nodes"`
	Edges []exportEdge `json:"edges"`
}

type exportNode struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Attributes map[string]string `json:"attributes"`
}

type exportEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
	Name   string `json:"name"`
}

// parseGraphJSON reads a snapshot previously exported by this service.
func parseGraphJSON(data []byte) ([]Record, error) {
	var doc graphExport
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: graph json: %v", ErrUnsupportedFormat, err)
	}
	if doc.Nodes == nil && doc.Edges == nil {
		return nil, fmt.Errorf("%w: graph json without nodes or edges", ErrUnsupportedFormat)
	}

	out := make([]Record, 0, len(doc.Nodes)+len(doc.Edges))
	for _, n := range doc.Nodes {
		node := graph.Node{ID: strings.TrimSpace(n.ID), Attributes: n.Attributes}
		if n.Kind != "" {
			kind, ok := taxonomy.ParseNodeKind(n.Kind)
			if !ok {
				return nil, fmt.Errorf("%w: node %s has unknown kind %q", ErrInvalidRecord, n.ID, n.Kind)
			}
			node.Kind = kind
		}
		out = append(out, Record{Kind: RecordNode, Node: &node})
	}
	for _, e := range doc.Edges {
		kind, ok := taxonomy.ParseEdgeKind(e.Kind)
		if !ok {
			kind, ok = taxonomy.ParseEdgeKind(e.Name)
		}
		if !ok {
			return nil, fmt.Errorf("%w: edge %s->%s has unknown kind %q", ErrInvalidRecord, e.Source, e.Target, e.Kind)
		}
		edge := graph.Edge{Source: e.Source, Target: e.Target, Kind: kind, Name: e.Name}
		out = append(out, Record{Kind: RecordEdge, Edge: &edge})
	}
	return out, nil
}
