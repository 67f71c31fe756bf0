package git

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Markers for the append-only experience-log section of PROGRESS.md.
const (
	ExperienceSectionStart = "<!-- orcd:experience:begin -->"
	ExperienceSectionEnd   = "<!-- orcd:experience:end -->"
)

// TableConflict represents a conflict in a specific PROGRESS.md table.
type TableConflict struct {
	TableName     string
	OursRows      []string // Rows from our version
	TheirsRows    []string // Rows from their version
	CommonRows    []string // Rows in both versions
	AddedByOurs   []string // New rows added by ours (not in common)
	AddedByTheirs []string // New rows added by theirs (not in common)
	CanMerge      bool     // True if purely additive
}

// ProgressMDConflict represents a conflict in PROGRESS.md.
type ProgressMDConflict struct {
	FilePath       string
	IsExperience   bool // True if conflict is in the experience section
	Tables         map[string]*TableConflict
	CanAutoResolve bool
	ResolutionLog  []string
}

// MergeResult contains the result of attempting to auto-merge.
type MergeResult struct {
	Success       bool
	MergedContent string
	Logs          []string
	Error         error
}

// ProgressMDMerger auto-merges the append-only experience-log tables every
// worker container appends to when a task completes. Because every worker
// appends to the same file on its own branch, a fast-forward-only
// AutoMerge would conflict on PROGRESS.md constantly; this resolves the
// purely-additive case (both sides only added new rows) without falling
// back to merge_pending.
type ProgressMDMerger struct {
	logger *slog.Logger
}

// NewProgressMDMerger creates a new PROGRESS.md merger.
func NewProgressMDMerger(logger *slog.Logger) *ProgressMDMerger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressMDMerger{logger: logger}
}

// CanAutoResolve checks if a PROGRESS.md conflict can be auto-resolved: it
// analyzes the conflict markers and determines if both sides are purely
// additive.
func (m *ProgressMDMerger) CanAutoResolve(conflictedContent string) (*ProgressMDConflict, error) {
	conflict := &ProgressMDConflict{
		Tables:        make(map[string]*TableConflict),
		ResolutionLog: []string{},
	}

	if !strings.Contains(conflictedContent, ExperienceSectionStart) {
		conflict.ResolutionLog = append(conflict.ResolutionLog, "no experience section markers found")
		return conflict, nil
	}

	if !strings.Contains(conflictedContent, "<<<<<<<") {
		conflict.ResolutionLog = append(conflict.ResolutionLog, "no conflict markers found")
		return conflict, nil
	}

	experienceSection, err := extractExperienceSection(conflictedContent)
	if err != nil {
		conflict.ResolutionLog = append(conflict.ResolutionLog, fmt.Sprintf("failed to extract experience section: %v", err))
		return conflict, nil
	}
	if experienceSection == "" {
		conflict.ResolutionLog = append(conflict.ResolutionLog, "experience section is empty")
		return conflict, nil
	}

	conflict.IsExperience = true

	conflicts := parseConflictBlocks(experienceSection)
	if len(conflicts) == 0 {
		conflict.ResolutionLog = append(conflict.ResolutionLog, "no conflict blocks found in experience section")
		return conflict, nil
	}

	m.logger.Debug("found conflict blocks", "count", len(conflicts))

	allCanMerge := true
	for i, cb := range conflicts {
		tableConflict, err := m.analyzeTableConflict(cb)
		if err != nil {
			conflict.ResolutionLog = append(conflict.ResolutionLog, fmt.Sprintf("conflict block %d: analysis failed: %v", i+1, err))
			allCanMerge = false
			continue
		}
		if tableConflict == nil {
			conflict.ResolutionLog = append(conflict.ResolutionLog, fmt.Sprintf("conflict block %d: not in a recognized table", i+1))
			allCanMerge = false
			continue
		}

		conflict.Tables[tableConflict.TableName] = tableConflict
		if !tableConflict.CanMerge {
			allCanMerge = false
			conflict.ResolutionLog = append(conflict.ResolutionLog, fmt.Sprintf("table %q: conflict is not purely additive", tableConflict.TableName))
		} else {
			conflict.ResolutionLog = append(conflict.ResolutionLog, fmt.Sprintf("table %q: can auto-merge (%d ours, %d theirs new rows)",
				tableConflict.TableName, len(tableConflict.AddedByOurs), len(tableConflict.AddedByTheirs)))
		}
	}

	conflict.CanAutoResolve = allCanMerge
	return conflict, nil
}

// AutoResolve attempts to auto-resolve conflicts in PROGRESS.md.
func (m *ProgressMDMerger) AutoResolve(conflictedContent string) *MergeResult {
	result := &MergeResult{Logs: []string{}}

	conflict, err := m.CanAutoResolve(conflictedContent)
	if err != nil {
		result.Error = fmt.Errorf("conflict analysis failed: %w", err)
		return result
	}
	if !conflict.CanAutoResolve {
		result.Error = fmt.Errorf("conflict cannot be auto-resolved: %s", strings.Join(conflict.ResolutionLog, "; "))
		result.Logs = conflict.ResolutionLog
		return result
	}

	resolved, err := m.mergeContent(conflictedContent)
	if err != nil {
		result.Error = fmt.Errorf("merge failed: %w", err)
		result.Logs = conflict.ResolutionLog
		return result
	}

	result.Success = true
	result.MergedContent = resolved
	result.Logs = append(conflict.ResolutionLog, "auto-merge successful")

	m.logger.Info("PROGRESS.md auto-merge successful", "tables_merged", len(conflict.Tables))
	return result
}

func (m *ProgressMDMerger) analyzeTableConflict(cb conflictBlock) (*TableConflict, error) {
	tc := &TableConflict{}
	tc.OursRows = parseTableRows(cb.ours)
	tc.TheirsRows = parseTableRows(cb.theirs)

	if len(tc.OursRows) == 0 && len(tc.TheirsRows) == 0 {
		return nil, nil
	}

	tc.TableName = detectTableName(cb.contextBefore)
	if tc.TableName == "" {
		tc.TableName = "Unknown"
	}

	oursSet := make(map[string]bool)
	for _, row := range tc.OursRows {
		oursSet[normalizeRow(row)] = true
	}
	theirsSet := make(map[string]bool)
	for _, row := range tc.TheirsRows {
		theirsSet[normalizeRow(row)] = true
	}

	for _, row := range tc.OursRows {
		if theirsSet[normalizeRow(row)] {
			tc.CommonRows = append(tc.CommonRows, row)
		} else {
			tc.AddedByOurs = append(tc.AddedByOurs, row)
		}
	}
	for _, row := range tc.TheirsRows {
		if !oursSet[normalizeRow(row)] {
			tc.AddedByTheirs = append(tc.AddedByTheirs, row)
		}
	}

	// Purely additive: both sides only appended rows, never edited a shared
	// one. Task ids are unique per row, so any row present on only one side
	// is by construction a new append, never an edit of an existing row.
	tc.CanMerge = true
	return tc, nil
}

func (m *ProgressMDMerger) mergeContent(conflictedContent string) (string, error) {
	result := conflictedContent
	conflicts := parseConflictBlocks(conflictedContent)

	for i := len(conflicts) - 1; i >= 0; i-- {
		cb := conflicts[i]
		tc, err := m.analyzeTableConflict(cb)
		if err != nil || tc == nil || !tc.CanMerge {
			continue
		}

		mergedRows := make([]string, 0, len(tc.OursRows)+len(tc.AddedByTheirs))
		mergedRows = append(mergedRows, tc.OursRows...)
		mergedRows = append(mergedRows, tc.AddedByTheirs...)
		sortByTaskID(mergedRows)

		replacement := strings.Join(mergedRows, "\n")
		if len(mergedRows) > 0 {
			replacement += "\n"
		}
		result = result[:cb.startPos] + replacement + result[cb.endPos:]
	}

	if strings.Contains(result, "<<<<<<<") || strings.Contains(result, ">>>>>>>") {
		return "", fmt.Errorf("conflict markers remain after merge")
	}
	return result, nil
}

type conflictBlock struct {
	startPos      int
	endPos        int
	ours          string
	theirs        string
	contextBefore string // text before the conflict, for table detection
}

var conflictRe = regexp.MustCompile(`(?s)<<<<<<<[^\n]*\n(.*?)\n?=======\n(.*?)\n?>>>>>>>[^\n]*`)

func parseConflictBlocks(content string) []conflictBlock {
	var blocks []conflictBlock
	matches := conflictRe.FindAllStringSubmatchIndex(content, -1)
	for _, match := range matches {
		if len(match) < 6 {
			continue
		}
		block := conflictBlock{
			startPos: match[0],
			endPos:   match[1],
			ours:     content[match[2]:match[3]],
			theirs:   content[match[4]:match[5]],
		}
		contextStart := match[0] - 500
		if contextStart < 0 {
			contextStart = 0
		}
		block.contextBefore = content[contextStart:match[0]]
		blocks = append(blocks, block)
	}
	return blocks
}

func extractExperienceSection(content string) (string, error) {
	startIdx := strings.Index(content, ExperienceSectionStart)
	if startIdx == -1 {
		return "", nil
	}
	endIdx := strings.Index(content, ExperienceSectionEnd)
	if endIdx == -1 {
		return "", fmt.Errorf("experience section start found but no end marker")
	}
	if endIdx <= startIdx {
		return "", fmt.Errorf("experience section markers in wrong order")
	}
	return content[startIdx : endIdx+len(ExperienceSectionEnd)], nil
}

func parseTableRows(content string) []string {
	var rows []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "|") && !strings.Contains(trimmed, "---") && !isTableHeader(trimmed) {
			rows = append(rows, line)
		}
	}
	return rows
}

var headerCellValues = map[string]bool{
	"pattern":     true,
	"description": true,
	"source":      true,
	"issue":       true,
	"resolution":  true,
	"decision":    true,
	"rationale":   true,
	"task":        true,
	"outcome":     true,
}

// isTableHeader reports whether row is a table header row: a header row's
// cells are entirely header-name words, not partial data.
func isTableHeader(row string) bool {
	parts := strings.Split(row, "|")
	if len(parts) < 3 {
		return false
	}
	headerCellCount, totalCells := 0, 0
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		totalCells++
		if headerCellValues[strings.ToLower(trimmed)] {
			headerCellCount++
		}
	}
	return headerCellCount >= 2 && totalCells > 0 && headerCellCount >= (totalCells/2)
}

func detectTableName(contextBefore string) string {
	switch {
	case strings.Contains(contextBefore, "Patterns Learned"):
		return "Patterns Learned"
	case strings.Contains(contextBefore, "Known Gotchas"):
		return "Known Gotchas"
	case strings.Contains(contextBefore, "Decisions"):
		return "Decisions"
	default:
		return ""
	}
}

var pipeSpacingRe = regexp.MustCompile(`\s*\|\s*`)

func normalizeRow(row string) string {
	return pipeSpacingRe.ReplaceAllString(strings.TrimSpace(row), "|")
}

var taskIDRe = regexp.MustCompile(`TASK-(\d+)`)

// sortByTaskID sorts rows by the numeric TASK-XXX identifier they
// reference, so the merged table reads in task-creation order regardless
// of which branch appended which row.
func sortByTaskID(rows []string) {
	sort.SliceStable(rows, func(i, j int) bool {
		matchI := taskIDRe.FindStringSubmatch(rows[i])
		matchJ := taskIDRe.FindStringSubmatch(rows[j])
		if len(matchI) < 2 || len(matchJ) < 2 {
			return false
		}
		var numI, numJ int
		fmt.Sscanf(matchI[1], "%d", &numI)
		fmt.Sscanf(matchJ[1], "%d", &numJ)
		return numI < numJ
	})
}

// ResolveProgressMDConflict attempts to auto-resolve a PROGRESS.md conflict,
// returning the resolved content and whether resolution succeeded.
func ResolveProgressMDConflict(conflictedContent string, logger *slog.Logger) (string, bool, []string) {
	merger := NewProgressMDMerger(logger)
	result := merger.AutoResolve(conflictedContent)
	if result.Success {
		return result.MergedContent, true, result.Logs
	}
	return "", false, result.Logs
}

// IsProgressMDFile reports whether path refers to the experience log.
func IsProgressMDFile(path string) bool {
	return strings.HasSuffix(path, "PROGRESS.md") || path == "PROGRESS.md"
}
