package parsers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
)

// errorBranch is the nexttasks label of a task's error handler.
const errorBranch = "#error#"

// PlaybookParser parses playbook and test-playbook ymls.
type PlaybookParser struct{}

// Types returns the content types this parser handles.
func (p *PlaybookParser) Types() []content.Type {
	return []content.Type{content.TypePlaybook, content.TypeTestPlaybook}
}

// Parse parses the playbook task graph and its references.
func (p *PlaybookParser) Parse(src *Source) (*ParseResult, error) {
	body, err := src.body()
	if err != nil {
		return nil, err
	}
	id := content.FirstString(body, "id")
	if id == "" {
		return nil, fmt.Errorf("playbook %s: missing id", src.Path)
	}
	t := content.TypePlaybook
	if loc, ok := content.Locate(src.Path); ok && loc.Dir == content.DirTestPlaybooks {
		t = content.TypeTestPlaybook
	}
	item := newItem(src, t, body, id, content.String(body, "name"))

	data := &content.PlaybookData{
		StartTaskID: content.String(body, "starttaskid"),
		Tasks:       make(map[string]*content.Task),
		Outputs:     parseOutputs(content.Slice(body, "outputs")),
	}
	for _, raw := range content.Slice(body, "inputs") {
		if m, ok := content.AsMap(raw); ok {
			if key := content.String(m, "key"); key != "" {
				data.Inputs = append(data.Inputs, key)
			}
		}
	}

	var refs []Reference
	tasks := content.Map(body, "tasks")
	ids := make([]string, 0, len(tasks))
	for taskID := range tasks {
		ids = append(ids, taskID)
	}
	sort.Strings(ids)

	for _, taskID := range ids {
		raw, ok := content.AsMap(tasks[taskID])
		if !ok {
			continue
		}
		task := parseTask(taskID, raw)
		data.Tasks[taskID] = task
		refs = append(refs, taskReferences(task)...)
	}

	tests := content.Strings(body, "tests")
	testRefs, optOut := testReferences(tests)
	data.Tests = realTests(tests)
	data.NoTests = optOut
	refs = append(refs, testRefs...)

	item.Playbook = data
	return &ParseResult{Item: item, References: refs}, nil
}

func parseTask(taskID string, raw map[string]any) *content.Task {
	inner := content.Map(raw, "task")
	task := &content.Task{
		ID:              taskID,
		Type:            content.String(raw, "type"),
		Name:            content.String(inner, "name"),
		Script:          content.String(inner, "script"),
		ScriptName:      content.String(inner, "scriptName"),
		SubPlaybook:     content.FirstString(inner, "playbookId", "playbookName"),
		SkipUnavailable: content.Bool(raw, "skipunavailable"),
		Inputs:          content.Map(raw, "scriptarguments"),
		NextTasks:       make(map[string][]string),
	}
	for label, targets := range content.Map(raw, "nexttasks") {
		ids := content.AsStrings(targets)
		if label == errorBranch {
			task.ErrorBranch = ids
			continue
		}
		task.NextTasks[label] = ids
	}
	task.Operators = taskOperators(raw)
	return task
}

// taskOperators collects filter and transformer operator names used by the
// task's arguments and conditions.
func taskOperators(raw map[string]any) []string {
	var ops []string
	seen := make(map[string]bool)
	add := func(complexValue map[string]any) {
		for _, f := range content.Slice(complexValue, "filters") {
			if group, ok := f.([]any); ok {
				for _, g := range group {
					if m, ok := content.AsMap(g); ok {
						addOperator(&ops, seen, content.String(m, "operator"))
					}
				}
			}
		}
		for _, tr := range content.Slice(complexValue, "transformers") {
			if m, ok := content.AsMap(tr); ok {
				addOperator(&ops, seen, content.String(m, "operator"))
			}
		}
	}

	if content.String(raw, "type") == "condition" {
		for _, entry := range content.Slice(raw, "conditions") {
			m, _ := content.AsMap(entry)
			for _, inner := range content.Slice(m, "condition") {
				group, _ := inner.([]any)
				for _, c := range group {
					cond, ok := content.AsMap(c)
					if !ok {
						continue
					}
					add(content.Map(cond, "left", "value", "complex"))
					add(content.Map(cond, "right", "value", "complex"))
				}
			}
		}
		return ops
	}
	for _, arg := range content.Map(raw, "scriptarguments") {
		if m, ok := content.AsMap(arg); ok {
			add(content.Map(m, "complex"))
		}
	}
	return ops
}

// addOperator keeps the last dotted component of an operator name.
func addOperator(ops *[]string, seen map[string]bool, op string) {
	if i := strings.LastIndex(op, "."); i >= 0 {
		op = op[i+1:]
	}
	if op == "" || seen[op] {
		return
	}
	seen[op] = true
	*ops = append(*ops, op)
}

func taskReferences(task *content.Task) []Reference {
	mandatory := !task.SkipUnavailable
	var refs []Reference
	if task.ScriptName != "" {
		refs = append(refs, uses(content.TypeScript, task.ScriptName, mandatory))
	}
	if task.Script != "" {
		if ref, ok := commandReference(task.Script, mandatory); ok {
			ref.Properties = map[string]any{"task": task.ID}
			refs = append(refs, ref)
		}
	}
	if task.SubPlaybook != "" && task.Type == "playbook" {
		refs = append(refs, uses(content.TypePlaybook, task.SubPlaybook, mandatory))
	}
	for _, op := range task.Operators {
		refs = append(refs, uses(content.TypeScript, op, false))
	}
	return refs
}
