package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReadIndex reads report.json from a report directory.
func ReadIndex(reportDir string) (*Index, error) {
	var index Index
	if err := readJSON(filepath.Join(reportDir, "report.json"), &index); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return &index, nil
}

// ReadFlow reads the detail file of one index entry.
func ReadFlow(reportDir string, entry FlowEntry) (*FlowDetail, error) {
	var detail FlowDetail
	if err := readJSON(filepath.Join(reportDir, entry.DataFile), &detail); err != nil {
		return nil, fmt.Errorf("read flow %s: %w", entry.ID, err)
	}
	return &detail, nil
}

// ReadReport reads the index and every flow detail of a finished report.
func ReadReport(reportDir string) (*Index, []FlowDetail, error) {
	index, err := ReadIndex(reportDir)
	if err != nil {
		return nil, nil, err
	}
	flows := make([]FlowDetail, 0, len(index.Flows))
	for _, entry := range index.Flows {
		detail, err := ReadFlow(reportDir, entry)
		if err != nil {
			return nil, nil, err
		}
		flows = append(flows, *detail)
	}
	return index, flows, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path) //#nosec G304 -- report paths come from our own index
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
