package bmf

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/grantscope/grantscope/internal/fault"
	"github.com/grantscope/grantscope/internal/normalize"
)

// Load reads a Business Master File CSV from disk and builds the
// indexed table. Rows with unparseable EINs are skipped and counted.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindNotFound, err, "open BMF file")
	}
	defer f.Close()
	return Read(f)
}

// Read parses BMF CSV content. The header row names the columns; the
// stable IRS header set (EIN, NAME, CITY, STATE, NTEE_CD, REVENUE_AMT,
// ASSET_AMT, FOUNDATION) is matched case-insensitively.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "read BMF header")
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"EIN", "NAME", "STATE"} {
		if _, ok := col[required]; !ok {
			return nil, fault.New(fault.KindInvalidArguments, "BMF header missing %s column", required)
		}
	}

	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Org
	skipped := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fault.Wrap(fault.KindInvalidArguments, err, "read BMF row")
		}
		ein, ok := normalize.EIN(get(rec, "EIN"))
		if !ok {
			skipped++
			continue
		}
		name := get(rec, "NAME")
		ntee, _ := normalize.ParseNTEE(get(rec, "NTEE_CD"))
		rows = append(rows, Org{
			EIN:            ein,
			Name:           name,
			CanonicalName:  normalize.OrgName(name),
			City:           get(rec, "CITY"),
			State:          canonicalState(get(rec, "STATE")),
			NTEE:           ntee,
			NTEERaw:        get(rec, "NTEE_CD"),
			Revenue:        parseAmount(get(rec, "REVENUE_AMT")),
			Assets:         parseAmount(get(rec, "ASSET_AMT")),
			FoundationCode: get(rec, "FOUNDATION"),
		})
	}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Int("loaded", len(rows)).Msg("BMF rows with invalid EINs skipped")
	}
	return NewTable(rows), nil
}

func parseAmount(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}
