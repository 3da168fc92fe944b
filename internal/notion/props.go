package notion

import (
	"strconv"
	"strings"
	"time"

	"github.com/notisync/notisync/internal/model"
)

// page is the subset of a Notion page the sink reads back.
type page struct {
	ID         string              `json:"id"`
	Archived   bool                `json:"archived"`
	Properties map[string]property `json:"properties"`
}

// property decodes any of the property shapes used by the two
// databases. Only the variant matching the property's type is set.
type property struct {
	Title       []richText    `json:"title"`
	RichText    []richText    `json:"rich_text"`
	Select      *selectValue  `json:"select"`
	MultiSelect []selectValue `json:"multi_select"`
	Date        *dateValue    `json:"date"`
	Checkbox    bool          `json:"checkbox"`
	Number      float64       `json:"number"`
	Relation    []relationRef `json:"relation"`
}

type richText struct {
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
	PlainText string `json:"plain_text"`
}

type selectValue struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start    string `json:"start"`
	End      string `json:"end,omitempty"`
	TimeZone string `json:"time_zone,omitempty"`
}

type relationRef struct {
	ID string `json:"id"`
}

func plainText(parts []richText) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Text.Content != "" {
			b.WriteString(p.Text.Content)
		} else {
			b.WriteString(p.PlainText)
		}
	}
	return b.String()
}

// eventProperties maps a canonical event onto the calendar database
// schema. Date carries the day, Interval the exact start/end in the
// configured zone, Hours the duration.
func (c *Client) eventProperties(ev model.Event) map[string]any {
	props := map[string]any{
		"Id":   richTextProp(ev.ID),
		"Name": titleProp(ev.Subject),
		"Date": map[string]any{
			"date": dateValue{Start: ev.Start.Format("2006-01-02")},
		},
		"Interval": map[string]any{
			"date": dateValue{
				Start:    ev.Start.Format(time.RFC3339),
				End:      ev.End.Format(time.RFC3339),
				TimeZone: c.cfg.Timezone,
			},
		},
		"Hours": map[string]any{
			"number": ev.End.Sub(ev.Start).Hours(),
		},
		"Tags": map[string]any{
			"multi_select": []selectValue{{Name: "Meeting"}},
		},
		"Project": map[string]any{
			"relation": c.projectRelation(ev.Project),
		},
	}
	return props
}

// taskProperties maps a canonical task onto the tasks database schema.
// The priority select is inverted (5-p) so that higher urgency sorts
// first in the sink; priority 1 maps to no select at all.
func (c *Client) taskProperties(task model.Task) map[string]any {
	props := map[string]any{
		"Id":   richTextProp(task.ID),
		"Name": titleProp(task.Content),
		"Done": map[string]any{"checkbox": task.Checked},
		"Tags": map[string]any{"multi_select": labelOptions(task.Labels)},
		"Project": map[string]any{
			"relation": c.projectRelation(task.Project),
		},
	}

	if task.Priority > 1 {
		props["Priority"] = map[string]any{
			"select": selectValue{Name: strconv.Itoa(5 - task.Priority)},
		}
	}
	if task.Due != nil {
		props["Date"] = map[string]any{
			"date": dateValue{Start: task.Due.Format("2006-01-02")},
		}
	}
	if task.Recurrence != "" {
		props["Recurrence"] = richTextProp(task.Recurrence)
	}
	return props
}

// parseTaskPage converts a tasks-database page back into a canonical
// task, undoing the sink-side transformations: priority 5-p, label
// casing, project relation to name. The description lives in child
// blocks and is filled in separately.
func (c *Client) parseTaskPage(p page) model.Task {
	task := model.Task{
		ID:      plainText(p.Properties["Id"].RichText),
		Content: plainText(p.Properties["Name"].Title),
		Checked: p.Properties["Done"].Checkbox,
		Deleted: p.Archived,
		Project: "Inbox",
	}

	task.Priority = 1
	if sel := p.Properties["Priority"].Select; sel != nil {
		if n, err := strconv.Atoi(sel.Name); err == nil {
			task.Priority = 5 - n
		}
	}

	if d := p.Properties["Date"].Date; d != nil {
		if due, err := parsePageDate(d.Start); err == nil {
			task.Due = &due
		}
	}

	if rel := p.Properties["Project"].Relation; len(rel) > 0 {
		if name, ok := c.projectNames[rel[0].ID]; ok {
			task.Project = name
		}
	}

	for _, opt := range p.Properties["Tags"].MultiSelect {
		task.Labels = append(task.Labels, labelFromOption(opt.Name))
	}

	task.Recurrence = plainText(p.Properties["Recurrence"].RichText)
	return task
}

func parsePageDate(s string) (time.Time, error) {
	if len(s) > 10 {
		s = s[:10]
	}
	return time.Parse("2006-01-02", s)
}

func (c *Client) projectRelation(name string) []relationRef {
	refs := []relationRef{}
	if name == "" {
		return refs
	}
	if id, ok := c.projectIDs[name]; ok {
		refs = append(refs, relationRef{ID: id})
	}
	return refs
}

// labelOption turns a service label ("next_action") into the sink's
// display casing ("Next action"); labelFromOption reverses it.
func labelOption(label string) string {
	s := strings.ReplaceAll(label, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func labelFromOption(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

func labelOptions(labels []string) []selectValue {
	opts := make([]selectValue, 0, len(labels))
	for _, l := range labels {
		opts = append(opts, selectValue{Name: labelOption(l)})
	}
	return opts
}

func richTextProp(content string) map[string]any {
	return map[string]any{
		"rich_text": []map[string]any{
			{"text": map[string]any{"content": content}},
		},
	}
}

func titleProp(content string) map[string]any {
	return map[string]any{
		"title": []map[string]any{
			{"text": map[string]any{"content": content}},
		},
	}
}

func calendarIcon() map[string]any {
	return map[string]any{
		"type": "external",
		"external": map[string]any{
			"url": "https://www.notion.so/icons/calendar_gray.svg?mode=dark",
		},
	}
}

// eventChildren builds the page body for a new calendar page: the event
// body as a gray callout, or nil when the event has none.
func eventChildren(ev model.Event) []map[string]any {
	if ev.Body == "" {
		return nil
	}
	return []map[string]any{{
		"object": "block",
		"type":   "callout",
		"callout": map[string]any{
			"icon": map[string]any{
				"type": "external",
				"external": map[string]any{
					"url": "https://www.notion.so/icons/drafts_gray.svg?mode=dark",
				},
			},
			"color": "gray_background",
			"rich_text": []map[string]any{
				{"type": "text", "text": map[string]any{"content": ev.Body}},
			},
		},
	}}
}

// taskChildren builds the page body for a new task page: the
// description as a plain paragraph, or nil when the task has none.
func taskChildren(task model.Task) []map[string]any {
	if task.Description == "" {
		return nil
	}
	return []map[string]any{{
		"object": "block",
		"type":   "paragraph",
		"paragraph": map[string]any{
			"rich_text": []map[string]any{
				{"type": "text", "text": map[string]any{"content": task.Description}},
			},
		},
	}}
}
