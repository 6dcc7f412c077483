package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/browser-runner/pkg/core"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single YAML flow file.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided flow file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses flow YAML content.
func Parse(data []byte, sourcePath string) (*Flow, error) {
	parts := splitYAMLDocuments(string(data))

	flow := &Flow{
		SourcePath: sourcePath,
	}

	if len(parts) == 0 {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    1,
			Message: "empty flow file",
		}
	}

	if len(parts) == 1 {
		if err := parseSteps(parts[0], flow); err != nil {
			return nil, err
		}
	} else {
		if err := parseConfig(parts[0], flow); err != nil {
			return nil, err
		}
		if err := parseSteps(parts[1], flow); err != nil {
			return nil, err
		}
	}

	return flow, nil
}

func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inMultiline := false
	multilineIndent := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inMultiline {
			if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") ||
				strings.HasSuffix(trimmed, "|-") || strings.HasSuffix(trimmed, ">-") {
				inMultiline = true
				if i+1 < len(lines) {
					next := lines[i+1]
					multilineIndent = len(next) - len(strings.TrimLeft(next, " \t"))
				}
			}
		} else {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent < multilineIndent {
				inMultiline = false
			}
		}

		if !inMultiline && trimmed == "---" && strings.TrimLeft(line, " \t") == "---" {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		} else {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}

	if current.Len() > 0 {
		s := strings.TrimSpace(current.String())
		if s != "" {
			parts = append(parts, current.String())
		}
	}

	return parts
}

func parseConfig(content string, flow *Flow) error {
	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}

	// Parse lifecycle hooks (onFlowStart, onFlowComplete)
	var rawConfig struct {
		OnFlowStart    []yaml.Node `yaml:"onFlowStart"`
		OnFlowComplete []yaml.Node `yaml:"onFlowComplete"`
	}
	if err := yaml.Unmarshal([]byte(content), &rawConfig); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}

	for _, node := range rawConfig.OnFlowStart {
		step, err := parseStep(&node, flow.SourcePath)
		if err != nil {
			return err
		}
		config.OnFlowStart = append(config.OnFlowStart, step)
	}

	for _, node := range rawConfig.OnFlowComplete {
		step, err := parseStep(&node, flow.SourcePath)
		if err != nil {
			return err
		}
		config.OnFlowComplete = append(config.OnFlowComplete, step)
	}

	flow.Config = config
	return nil
}

func parseSteps(content string, flow *Flow) error {
	var rawSteps []yaml.Node
	if err := yaml.Unmarshal([]byte(content), &rawSteps); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid steps: %v", err),
		}
	}

	for _, node := range rawSteps {
		step, err := parseStep(&node, flow.SourcePath)
		if err != nil {
			return err
		}
		flow.Steps = append(flow.Steps, step)
	}

	return nil
}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	// Handle scalar nodes like "- refresh" (no colon, no params)
	if node.Kind == yaml.ScalarNode {
		stepType := node.Value
		if !isStepType(stepType) {
			return nil, &ParseError{
				Path:    sourcePath,
				Line:    node.Line,
				Message: fmt.Sprintf("unknown step type: %s", stepType),
			}
		}
		// Create empty value node for steps with no parameters
		emptyNode := &yaml.Node{Kind: yaml.MappingNode}
		return decodeStep(StepType(stepType), emptyNode, sourcePath)
	}

	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "step must be a mapping or command name",
		}
	}

	stepType, valueNode := extractStepType(node)
	if stepType == "" || valueNode == nil {
		msg := "unknown step type"
		if len(node.Content) > 0 {
			msg += ": " + node.Content[0].Value
		}
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: msg,
		}
	}

	return decodeStep(StepType(stepType), valueNode, sourcePath)
}

func extractStepType(node *yaml.Node) (string, *yaml.Node) {
	for i := 0; i < len(node.Content)-1; i += 2 {
		key := node.Content[i].Value
		if isStepType(key) {
			return key, node.Content[i+1]
		}
	}
	return "", nil
}

func isStepType(key string) bool {
	_, ok := stepTypes[StepType(key)]
	return ok
}

var stepTypes = map[StepType]struct{}{
	StepOpenURL: {}, StepBack: {}, StepForward: {}, StepRefresh: {},
	StepClick: {}, StepTypeText: {}, StepCheck: {}, StepUncheck: {}, StepSelect: {},
	StepSelectCustom: {}, StepHover: {}, StepPressKey: {}, StepScrollTo: {},
	StepHighlight: {}, StepRemoveAttribute: {},
	StepAssertVisible: {}, StepAssertNotVisible: {}, StepAssertText: {}, StepAssertTitle: {},
	StepAssertURL: {}, StepAssertTrue: {}, StepAssertImageLoaded: {}, StepAssertValidationMessage: {},
	StepWaitUntil: {}, StepWaitForAjax: {}, StepSleep: {},
	StepAcceptAlert: {}, StepDismissAlert: {}, StepTypeInAlert: {}, StepAssertAlertText: {},
	StepSwitchToWindow: {}, StepCloseOtherWindows: {}, StepSwitchToFrame: {}, StepSwitchToDefaultContent: {},
	StepCopyTextFrom: {}, StepDefineVariables: {}, StepEvalScript: {}, StepRunScript: {}, StepExecuteScript: {},
	StepRepeat: {}, StepRunFlow: {},
	StepTakeScreenshot: {},
}

// decodeTargetStep decodes a step whose scalar form is a locator. t must
// point at the Target embedded in s.
func decodeTargetStep(valueNode *yaml.Node, sourcePath string, t *Target, s interface{}) error {
	if valueNode.Kind == yaml.ScalarNode {
		t.Locator = valueNode.Value
	} else if err := valueNode.Decode(s); err != nil {
		return wrapParseError(sourcePath, valueNode.Line, err)
	}
	return checkTarget(*t, valueNode.Line, sourcePath)
}

// decodeMappingStep decodes a step that only has a mapping form.
func decodeMappingStep(valueNode *yaml.Node, sourcePath string, s interface{}) error {
	if valueNode.Kind != yaml.MappingNode {
		return &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "expected a mapping"}
	}
	if err := valueNode.Decode(s); err != nil {
		return wrapParseError(sourcePath, valueNode.Line, err)
	}
	return nil
}

// decodeScalarStep decodes a step whose scalar form sets one string field.
func decodeScalarStep(valueNode *yaml.Node, sourcePath string, field *string, s interface{}) error {
	if valueNode.Kind == yaml.ScalarNode {
		*field = valueNode.Value
		return nil
	}
	if err := valueNode.Decode(s); err != nil {
		return wrapParseError(sourcePath, valueNode.Line, err)
	}
	return nil
}

func checkTarget(t Target, line int, sourcePath string) error {
	if t.IsZero() {
		return &ParseError{Path: sourcePath, Line: line, Message: "locator is required"}
	}
	if err := t.Validate(); err != nil {
		return wrapParseError(sourcePath, line, err)
	}
	return nil
}

func checkLocator(raw string, args []string, line int, sourcePath string) error {
	return checkTarget(Target{Locator: raw, Args: args}, line, sourcePath)
}

func checkCondition(c Condition, line int, sourcePath string) error {
	for _, loc := range []string{c.Visible, c.NotVisible} {
		if loc == "" {
			continue
		}
		if err := checkLocator(loc, nil, line, sourcePath); err != nil {
			return err
		}
	}
	return nil
}

func checkMatch(m TextMatch, line int, sourcePath string) error {
	if m.IsZero() {
		return &ParseError{Path: sourcePath, Line: line, Message: "equals or contains is required"}
	}
	return nil
}

//nolint:gocyclo
func decodeStep(stepType StepType, valueNode *yaml.Node, sourcePath string) (Step, error) {
	line := valueNode.Line

	switch stepType {
	case StepOpenURL:
		var s OpenURLStep
		if err := decodeScalarStep(valueNode, sourcePath, &s.URL, &s); err != nil {
			return nil, err
		}
		if s.URL == "" {
			return nil, &ParseError{Path: sourcePath, Line: line, Message: "url is required"}
		}
		s.StepType = stepType
		return &s, nil

	case StepBack, StepForward, StepRefresh:
		var s NavigationStep
		if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, line, err)
		}
		s.StepType = stepType
		return &s, nil

	case StepClick:
		var s ClickStep
		if err := decodeTargetStep(valueNode, sourcePath, &s.Target, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepTypeText:
		var s TypeStep
		if err := decodeMappingStep(valueNode, sourcePath, &s); err != nil {
			return nil, err
		}
		if err := checkTarget(s.Target, line, sourcePath); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepCheck, StepUncheck:
		var s CheckStep
		if err := decodeTargetStep(valueNode, sourcePath, &s.Target, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepSelect:
		var s SelectStep
		if err := decodeMappingStep(valueNode, sourcePath, &s); err != nil {
			return nil, err
		}
		if err := checkTarget(s.Target, line, sourcePath); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepSelectCustom:
		var s SelectCustomStep
		if err := decodeMappingStep(valueNode, sourcePath, &s); err != nil {
			return nil, err
		}
		if err := checkLocator(s.Parent, nil, line, sourcePath); err != nil {
			return nil, err
		}
		if err := checkLocator(s.Child, nil, line, sourcePath); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepHover:
		var s HoverStep
		if err := decodeTargetStep(valueNode, sourcePath, &s.Target, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepPressKey:
		var s PressKeyStep
		if err := decodeMappingStep(valueNode, sourcePath, &s); err != nil {
			return nil, err
		}
		if err := checkTarget(s.Target, line, sourcePath); err != nil {
			return nil, err
		}
		if !strings.Contains(s.Key, "${") {
			if _, err := core.ParseKey(s.Key); err != nil {
				return nil, wrapParseError(sourcePath, line, err)
			}
		}
		s.StepType = stepType
		return &s, nil

	case StepScrollTo:
		var s ScrollToStep
		if err := decodeTargetStep(valueNode, sourcePath, &s.Target, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepHighlight:
		var s HighlightStep
		if err := decodeTargetStep(valueNode, sourcePath, &s.Target, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepRemoveAttribute:
		var s RemoveAttributeStep
		if err := decodeMappingStep(valueNode, sourcePath, &s); err != nil {
			return nil, err
		}
		if err := checkTarget(s.Target, line, sourcePath); err != nil {
			return nil, err
		}
		if s.Attribute == "" {
			return nil, &ParseError{Path: sourcePath, Line: line, Message: "attribute is required"}
		}
		s.StepType = stepType
		return &s, nil

	case StepAssertVisible:
		var s AssertVisibleStep
		if err := decodeTargetStep(valueNode, sourcePath, &s.Target, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepAssertNotVisible:
		var s AssertNotVisibleStep
		if err := decodeTargetStep(valueNode, sourcePath, &s.Target, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepAssertText:
		var s AssertTextStep
		if err := decodeMappingStep(valueNode, sourcePath, &s); err != nil {
			return nil, err
		}
		if err := checkTarget(s.Target, line, sourcePath); err != nil {
			return nil, err
		}
		if err := checkMatch(s.TextMatch, line, sourcePath); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepAssertTitle, StepAssertURL:
		var s AssertPageStep
		if valueNode.Kind == yaml.ScalarNode {
			// A bare title must match exactly; a bare URL is a fragment.
			if stepType == StepAssertTitle {
				s.Equals = valueNode.Value
			} else {
				s.Contains = valueNode.Value
			}
		} else if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, line, err)
		}
		if err := checkMatch(s.TextMatch, line, sourcePath); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepAssertTrue:
		var s AssertTrueStep
		if err := decodeScalarStep(valueNode, sourcePath, &s.Script, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepAssertImageLoaded:
		var s AssertImageLoadedStep
		if err := decodeTargetStep(valueNode, sourcePath, &s.Target, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepAssertValidationMessage:
		var s AssertValidationMessageStep
		if err := decodeMappingStep(valueNode, sourcePath, &s); err != nil {
			return nil, err
		}
		if err := checkTarget(s.Target, line, sourcePath); err != nil {
			return nil, err
		}
		if err := checkMatch(s.TextMatch, line, sourcePath); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepWaitUntil:
		var s WaitUntilStep
		if err := decodeMappingStep(valueNode, sourcePath, &s); err != nil {
			return nil, err
		}
		set := 0
		for _, loc := range []string{s.Visible, s.NotVisible, s.Clickable} {
			if loc == "" {
				continue
			}
			set++
			if err := checkLocator(loc, s.Args, line, sourcePath); err != nil {
				return nil, err
			}
		}
		if set != 1 {
			return nil, &ParseError{Path: sourcePath, Line: line, Message: "exactly one of visible, notVisible or clickable is required"}
		}
		s.StepType = stepType
		return &s, nil

	case StepWaitForAjax:
		var s WaitForAjaxStep
		if err := valueNode.Decode(&s); err != nil {
			return nil, wrapParseError(sourcePath, line, err)
		}
		s.StepType = stepType
		return &s, nil

	case StepSleep:
		var s SleepStep
		if err := decodeScalarStep(valueNode, sourcePath, &s.Seconds, &s); err != nil {
			return nil, err
		}
		if s.Seconds == "" {
			return nil, &ParseError{Path: sourcePath, Line: line, Message: "seconds is required"}
		}
		s.StepType = stepType
		return &s, nil

	case StepAcceptAlert, StepDismissAlert, StepCloseOtherWindows, StepSwitchToDefaultContent:
		var base BaseStep
		if err := valueNode.Decode(&base); err != nil {
			return nil, wrapParseError(sourcePath, line, err)
		}
		base.StepType = stepType
		switch stepType {
		case StepCloseOtherWindows:
			return &CloseOtherWindowsStep{BaseStep: base}, nil
		case StepSwitchToDefaultContent:
			return &SwitchToDefaultContentStep{BaseStep: base}, nil
		}
		return &AlertStep{BaseStep: base}, nil

	case StepTypeInAlert:
		var s TypeInAlertStep
		if err := decodeScalarStep(valueNode, sourcePath, &s.Text, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepAssertAlertText:
		var s AssertAlertTextStep
		if err := decodeScalarStep(valueNode, sourcePath, &s.Equals, &s); err != nil {
			return nil, err
		}
		if err := checkMatch(s.TextMatch, line, sourcePath); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepSwitchToWindow:
		var s SwitchToWindowStep
		if err := decodeScalarStep(valueNode, sourcePath, &s.Title, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepSwitchToFrame:
		var s SwitchToFrameStep
		if err := decodeTargetStep(valueNode, sourcePath, &s.Target, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepCopyTextFrom:
		var s CopyTextFromStep
		if err := decodeTargetStep(valueNode, sourcePath, &s.Target, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepDefineVariables:
		var s DefineVariablesStep
		s.Env = make(map[string]string)
		if valueNode.Kind == yaml.MappingNode {
			for i := 0; i < len(valueNode.Content)-1; i += 2 {
				s.Env[valueNode.Content[i].Value] = valueNode.Content[i+1].Value
			}
		}
		s.StepType = stepType
		return &s, nil

	case StepEvalScript:
		var s EvalScriptStep
		if err := decodeScalarStep(valueNode, sourcePath, &s.Script, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepRunScript:
		var s RunScriptStep
		if err := decodeScalarStep(valueNode, sourcePath, &s.Script, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	case StepExecuteScript:
		var s ExecuteScriptStep
		if err := decodeScalarStep(valueNode, sourcePath, &s.Script, &s); err != nil {
			return nil, err
		}
		if s.Script == "" {
			return nil, &ParseError{Path: sourcePath, Line: line, Message: "script is required"}
		}
		if !s.Target.IsZero() {
			if err := checkTarget(s.Target, line, sourcePath); err != nil {
				return nil, err
			}
		}
		s.StepType = stepType
		return &s, nil

	case StepRepeat:
		return parseRepeatStep(valueNode, sourcePath)

	case StepRunFlow:
		return parseRunFlowStep(valueNode, sourcePath)

	case StepTakeScreenshot:
		var s TakeScreenshotStep
		if err := decodeScalarStep(valueNode, sourcePath, &s.Path, &s); err != nil {
			return nil, err
		}
		s.StepType = stepType
		return &s, nil

	default:
		return &UnsupportedStep{
			BaseStep: BaseStep{StepType: stepType},
			Reason:   "unknown step type",
		}, nil
	}
}

// parseRepeatStep handles repeat with nested commands.
func parseRepeatStep(valueNode *yaml.Node, sourcePath string) (Step, error) {
	var raw struct {
		Times    string      `yaml:"times"` // String for variable support
		While    Condition   `yaml:"while"`
		Commands []yaml.Node `yaml:"commands"`
		Optional bool        `yaml:"optional"`
		Label    string      `yaml:"label"`
	}

	if err := valueNode.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}

	if raw.Times == "" && raw.While.IsZero() {
		return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "repeat needs times or while"}
	}
	if err := checkCondition(raw.While, valueNode.Line, sourcePath); err != nil {
		return nil, err
	}

	s := &RepeatStep{
		BaseStep: BaseStep{
			StepType:  StepRepeat,
			Optional:  raw.Optional,
			StepLabel: raw.Label,
		},
		Times: raw.Times,
		While: raw.While,
	}

	for _, cmdNode := range raw.Commands {
		step, err := parseStep(&cmdNode, sourcePath)
		if err != nil {
			return nil, err
		}
		s.Steps = append(s.Steps, step)
	}

	return s, nil
}

// parseRunFlowStep handles runFlow with optional nested commands.
func parseRunFlowStep(valueNode *yaml.Node, sourcePath string) (Step, error) {
	s := &RunFlowStep{BaseStep: BaseStep{StepType: StepRunFlow}}

	if valueNode.Kind == yaml.ScalarNode {
		s.File = valueNode.Value
		return s, nil
	}

	var raw struct {
		File     string            `yaml:"file"`
		Commands []yaml.Node       `yaml:"commands"`
		When     *Condition        `yaml:"when"`
		Env      map[string]string `yaml:"env"`
		Optional bool              `yaml:"optional"`
		Label    string            `yaml:"label"`
	}

	if err := valueNode.Decode(&raw); err != nil {
		return nil, wrapParseError(sourcePath, valueNode.Line, err)
	}

	if raw.When != nil {
		if err := checkCondition(*raw.When, valueNode.Line, sourcePath); err != nil {
			return nil, err
		}
	}
	if raw.File == "" && len(raw.Commands) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: "runFlow needs file or commands"}
	}

	s.File = raw.File
	s.When = raw.When
	s.Env = raw.Env
	s.Optional = raw.Optional
	s.StepLabel = raw.Label

	for _, cmdNode := range raw.Commands {
		step, err := parseStep(&cmdNode, sourcePath)
		if err != nil {
			return nil, err
		}
		s.Steps = append(s.Steps, step)
	}

	return s, nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// ParseDirectory parses all YAML files in a directory.
func ParseDirectory(dir string, includeTags, excludeTags []string) ([]*Flow, error) {
	var flows []*Flow

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		flow, parseErr := ParseFile(path)
		if parseErr != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", path, parseErr)
			return nil
		}

		if ShouldIncludeFlow(flow, includeTags, excludeTags) {
			flows = append(flows, flow)
		}
		return nil
	})

	return flows, err
}

// ShouldIncludeFlow checks if a flow matches tag filters.
func ShouldIncludeFlow(flow *Flow, includeTags, excludeTags []string) bool {
	if len(includeTags) > 0 {
		hasTag := false
		for _, tag := range flow.Config.Tags {
			for _, include := range includeTags {
				if tag == include {
					hasTag = true
					break
				}
			}
		}
		if !hasTag {
			return false
		}
	}

	for _, tag := range flow.Config.Tags {
		for _, exclude := range excludeTags {
			if tag == exclude {
				return false
			}
		}
	}

	return true
}
