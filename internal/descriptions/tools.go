package descriptions

import "sort"

// Tool descriptions with practical examples and workflows

const (
	// Document tools
	BuildHierarchyDescription = `Turn an extracted document into a nested section hierarchy.

**When to use:** You have a protocol or eCRF as a PDF, a structured-data zip or a flat elements JSON file and need the header/paragraph/table tree the rest of the pipeline works on.

**Why it's useful:** Headers nest by level, tables and list items stay under the paragraph or header they belong to, and inline spans are folded into their parent text.

**Examples:**
• "Build the hierarchy of uploads/protocol.json"
• "Structure ecrf.zip and save it as outputs/ecrf_hierarchy.json"

**Common workflows:**
1. ptd_validate_pdf → ptd_build_hierarchy → inspect sections
2. ptd_build_hierarchy → ptd_extract_forms / ptd_parse_schedule

**Best practices:** Paths are resolved inside the server data directory. Without an output path the tree is written next to the input as <name>_output.json.`

	ExtractFormsDescription = `List the eCRF forms with their source, visits and dynamic triggers.

**When to use:** Need to know which forms an eCRF defines before generating a PTD, or to review trigger text and required flags.

**Why it's useful:** Applies the form-naming, source classification and visit detection rules and returns one CSV row per form.

**Examples:**
• "Which forms are in uploads/ecrf.json?"
• "Show the dynamic forms of the CRF and what triggers them"

**Best practices:** Accepts the same inputs as ptd_build_hierarchy. The CSV columns are Form Label, Form Name, Source, Visits, Dynamic Trigger, Trigger Details and Required.`

	ParseScheduleDescription = `Read the schedule of activities out of a protocol.

**When to use:** Need the visit columns and the procedures scheduled at each visit.

**Why it's useful:** Finds the schedule tables, merges tables continued across pages, detects the visit header row and returns a procedure-by-visit CSV grid.

**Examples:**
• "Parse the flowchart in uploads/protocol.json"
• "Which visits does the protocol define?"

**Best practices:** A protocol with no recognisable schedule table returns an error naming the missing table or visit header.`

	GenerateDescription = `Generate the PTD workbook from a protocol and an eCRF.

**When to use:** Both documents are available and you need the Schedule Grid and Study Specific Forms sheets.

**Why it's useful:** Runs every pipeline stage (forms, schedule, matrix, event grouping, layout, study forms) and writes the workbook in one of three modes.

**Modes:**
• default: copy the template and replace both sheets
• stream: write a fresh two-sheet workbook, no template needed
• surgery: rewrite only the two sheet parts of the template archive

**Examples:**
• "Generate a PTD from protocol.json and ecrf.json into outputs/study.xlsx"
• "Update templates/ptd.xlsx in surgery mode"

**Best practices:** Omit mode and template for a stream-mode workbook in outputs/ptd_output.xlsx. Set fast to skip per-cell styling on large studies.`

	ValidatePDFDescription = `Check that a file is a readable PDF before extraction.

**When to use:** Before ptd_build_hierarchy on an uploaded PDF.

**Why it's useful:** Reports existence, size limit, page count and readability problems up front.

**Best practices:** Run it first on any PDF of unknown origin.`

	ServerInfoDescription = `Show the server version, data directory, limits and available tools.

**When to use:** Starting a session or checking where inputs and outputs live.

**Best practices:** All tool paths are relative to the data directory shown here.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	"ptd_build_hierarchy": BuildHierarchyDescription,
	"ptd_extract_forms":   ExtractFormsDescription,
	"ptd_parse_schedule":  ParseScheduleDescription,
	"ptd_generate":        GenerateDescription,
	"ptd_validate_pdf":    ValidatePDFDescription,
	"ptd_server_info":     ServerInfoDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns the tool names in sorted order
func GetAllToolNames() []string {
	names := make([]string, 0, len(ToolDescriptions))
	for name := range ToolDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
