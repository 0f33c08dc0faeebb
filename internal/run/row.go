package run

import (
	"encoding/json"
	"strings"

	"github.com/shpitdev/outreach-enricher/internal/enrich"
	"github.com/shpitdev/outreach-enricher/internal/table"
	"github.com/shpitdev/outreach-enricher/pkg/pipeline/checkpoint"
	"github.com/shpitdev/outreach-enricher/pkg/pipeline/redact"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// Header is the stable column contract for the checkpoint/result table.
// The website identifier is the key and must stay the first column.
func Header() []string {
	return []string{
		"website",
		"summary",
		"products",
		"target_roles",
		"industries",
		"regions",
		"emails",
		"status",
		"error",
		"model",
		"passthrough",
	}
}

// Row is one resolved result in the checkpoint/result table. List and map
// fields are serialized JSON so the CSV schema stays flat and stable.
type Row struct {
	Website     string
	Summary     string
	Products    string
	TargetRoles string
	Industries  string
	Regions     string
	Emails      string
	Status      string
	Error       string
	Model       string
	Passthrough string
}

func (r Row) record() checkpoint.Record {
	return checkpoint.Record{
		Key: r.Website,
		Fields: []string{
			r.Website,
			r.Summary,
			r.Products,
			r.TargetRoles,
			r.Industries,
			r.Regions,
			r.Emails,
			r.Status,
			r.Error,
			r.Model,
			r.Passthrough,
		},
	}
}

// RowFromRecord rebuilds a Row from a checkpoint record.
func RowFromRecord(rec checkpoint.Record) Row {
	h := Header()
	return Row{
		Website:     rec.Field(h, "website"),
		Summary:     rec.Field(h, "summary"),
		Products:    rec.Field(h, "products"),
		TargetRoles: rec.Field(h, "target_roles"),
		Industries:  rec.Field(h, "industries"),
		Regions:     rec.Field(h, "regions"),
		Emails:      rec.Field(h, "emails"),
		Status:      rec.Field(h, "status"),
		Error:       rec.Field(h, "error"),
		Model:       rec.Field(h, "model"),
		Passthrough: rec.Field(h, "passthrough"),
	}
}

// buildRow flattens an item's outcome into the stable schema. Failed items
// keep every result column type-correct: empty string or empty JSON array,
// never a missing or null value.
func buildRow(item table.Item, res enrich.Result, itemErr error) Row {
	res = res.Normalize()
	row := Row{
		Website:     item.Identifier,
		Summary:     res.Summary,
		Products:    jsonArray(res.Products),
		TargetRoles: jsonArray(res.TargetRoles),
		Industries:  jsonArray(res.Industries),
		Regions:     jsonArray(res.Regions),
		Emails:      jsonMessages(res.Emails),
		Status:      statusOK,
		Model:       res.Model,
		Passthrough: jsonObject(item.Passthrough),
	}
	if itemErr != nil {
		row.Status = statusError
		row.Error = redact.Secrets(itemErr.Error())
	}
	return row
}

func jsonArray(vals []string) string {
	if vals == nil {
		vals = []string{}
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func jsonMessages(msgs []enrich.Message) string {
	if msgs == nil {
		msgs = []enrich.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func jsonObject(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// rowState maps a checkpointed status back onto the state machine.
func rowState(rec checkpoint.Record) State {
	if strings.EqualFold(strings.TrimSpace(rec.Field(Header(), "status")), statusOK) {
		return StateSucceeded
	}
	return StateFailed
}
