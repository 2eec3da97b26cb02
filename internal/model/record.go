package model

import "strings"

// Submission is a validated request to run the task at TaskIndex under Name.
type Submission struct {
	Name      string `json:"name"`
	TaskIndex int    `json:"task_index"`
}

// ResultRecord is one persisted "name: result" line of the result log.
type ResultRecord struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// String renders the record in its on-disk form.
func (r ResultRecord) String() string {
	return r.Name + ": " + r.Result
}

// ParseResultRecord splits a result line on its first colon. The result text
// has leading whitespace removed. A line without a colon yields the whole line
// as both name and result.
func ParseResultRecord(line string) ResultRecord {
	name, result, ok := strings.Cut(line, ":")
	if !ok {
		return ResultRecord{Name: line, Result: line}
	}
	return ResultRecord{
		Name:   name,
		Result: strings.TrimLeft(result, " \t"),
	}
}
