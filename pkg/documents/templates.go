package documents

import (
	"sort"
	"strings"
)

// Field is one top-level section of a generated document.
type Field struct {
	Key         string
	Description string
	List        bool
}

// ChecklistItem is one weighted QA question. Weights of a checklist sum to 100.
type ChecklistItem struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Weight   int    `json:"weight"`
}

// Template describes how a document type is prompted, shaped and reviewed.
type Template struct {
	Type         string
	Name         string
	Instructions string
	Fields       []Field
	Required     []string
	Checklist    []ChecklistItem
}

const baseInstructions = "You are a professional document generator. You must respond with structured JSON data " +
	"that matches the provided schema exactly. Each field should contain well-formatted, professional content " +
	"with proper markdown formatting where appropriate."

// DefaultType is used for unknown document types.
const DefaultType = "proposal"

var templates = map[string]*Template{
	"proposal": {
		Type:         "proposal",
		Name:         "Business Proposal",
		Instructions: "Generate a comprehensive business proposal with all required sections. Focus on clear value proposition, detailed scope, realistic timelines, and compelling call-to-action.",
		Fields: []Field{
			{Key: "executiveSummary", Description: "2-3 paragraph executive summary"},
			{Key: "problemStatement", Description: "Clear problem identification and solution overview"},
			{Key: "projectScope", Description: "Detailed scope and deliverables"},
			{Key: "timeline", Description: "Project timeline and milestones"},
			{Key: "budget", Description: "Budget breakdown and investment details"},
			{Key: "teamQualifications", Description: "Team experience and qualifications"},
			{Key: "riskAssessment", Description: "Risk analysis and mitigation strategies"},
			{Key: "termsConditions", Description: "Terms and conditions"},
			{Key: "callToAction", Description: "Clear next steps and call to action"},
		},
		Required: []string{"executiveSummary", "problemStatement", "projectScope", "timeline", "budget"},
		Checklist: []ChecklistItem{
			{ID: "executive_summary", Question: "Does the document include a clear executive summary?", Weight: 15},
			{ID: "problem_statement", Question: "Is the problem/opportunity clearly defined?", Weight: 20},
			{ID: "solution_approach", Question: "Is the proposed solution well-articulated and feasible?", Weight: 25},
			{ID: "timeline", Question: "Are project timelines realistic and well-defined?", Weight: 15},
			{ID: "budget", Question: "Is the budget breakdown clear and justified?", Weight: 15},
			{ID: "team_qualifications", Question: "Are team qualifications and experience clearly presented?", Weight: 10},
		},
	},
	"audit": {
		Type:         "audit",
		Name:         "Audit Report",
		Instructions: "Create a thorough audit report with objective findings, clear risk assessments, and actionable recommendations. Maintain professional audit standards throughout.",
		Fields: []Field{
			{Key: "executiveSummary", Description: "Summary of key audit findings"},
			{Key: "auditScope", Description: "Scope and methodology used"},
			{Key: "keyFindings", Description: "List of key findings and observations", List: true},
			{Key: "riskAssessment", Description: "Risk impact analysis"},
			{Key: "recommendations", Description: "Actionable recommendations", List: true},
			{Key: "managementResponse", Description: "Required management response section"},
			{Key: "implementationTimeline", Description: "Timeline for implementing recommendations"},
			{Key: "followUpPlan", Description: "Monitoring and follow-up procedures"},
		},
		Required: []string{"executiveSummary", "auditScope", "keyFindings", "recommendations"},
		Checklist: []ChecklistItem{
			{ID: "scope_definition", Question: "Is the audit scope clearly defined and comprehensive?", Weight: 20},
			{ID: "findings_clarity", Question: "Are findings clearly documented with evidence?", Weight: 25},
			{ID: "clause_mapping", Question: "Are findings properly mapped to relevant ISO clauses?", Weight: 20},
			{ID: "severity_assessment", Question: "Is severity assessment consistent and justified?", Weight: 15},
			{ID: "capa_actionable", Question: "Are CAPA items specific, actionable, and time-bound?", Weight: 20},
		},
	},
	"report": {
		Type:         "report",
		Name:         "Business Report",
		Instructions: "Develop a comprehensive business report with data-driven insights, strategic analysis, and practical recommendations for implementation.",
		Fields: []Field{
			{Key: "executiveSummary", Description: "High-level summary of report findings"},
			{Key: "situationAnalysis", Description: "Current situation and context analysis"},
			{Key: "marketResearch", Description: "Market and competitive analysis"},
			{Key: "performanceReview", Description: "Financial and operational performance review"},
			{Key: "strategicRecommendations", Description: "Strategic recommendations", List: true},
			{Key: "implementationRoadmap", Description: "Implementation plan and roadmap"},
			{Key: "riskFactors", Description: "Risk factors and mitigation strategies"},
			{Key: "conclusion", Description: "Conclusion and next steps"},
		},
		Required: []string{"executiveSummary", "situationAnalysis", "strategicRecommendations", "conclusion"},
		Checklist: []ChecklistItem{
			{ID: "executive_summary", Question: "Does the summary capture the key findings?", Weight: 20},
			{ID: "analysis_depth", Question: "Is the situation analysis supported by data?", Weight: 25},
			{ID: "recommendations", Question: "Are recommendations specific and prioritized?", Weight: 25},
			{ID: "roadmap", Question: "Is the implementation roadmap realistic?", Weight: 15},
			{ID: "risks", Question: "Are risk factors identified with mitigations?", Weight: 15},
		},
	},
	"hr-policy": {
		Type:         "hr-policy",
		Name:         "HR Policy Document",
		Instructions: "Create a detailed HR policy document that is legally compliant, clearly written, and practically implementable within an organization.",
		Fields: []Field{
			{Key: "policyStatement", Description: "Clear policy statement and objectives"},
			{Key: "scope", Description: "Scope and applicability of the policy"},
			{Key: "definitions", Description: "Key terms and definitions"},
			{Key: "procedures", Description: "Detailed policy procedures and guidelines"},
			{Key: "rolesResponsibilities", Description: "Roles and responsibilities matrix"},
			{Key: "compliance", Description: "Compliance requirements and standards"},
			{Key: "enforcement", Description: "Enforcement and disciplinary actions"},
			{Key: "reviewProcess", Description: "Policy review and update process"},
		},
		Required: []string{"policyStatement", "scope", "procedures", "rolesResponsibilities"},
		Checklist: []ChecklistItem{
			{ID: "policy_statement", Question: "Is the policy statement clear and unambiguous?", Weight: 20},
			{ID: "scope", Question: "Is applicability clearly defined?", Weight: 15},
			{ID: "procedures", Question: "Are procedures practical and complete?", Weight: 25},
			{ID: "responsibilities", Question: "Are roles and responsibilities assigned?", Weight: 20},
			{ID: "compliance", Question: "Are compliance and enforcement addressed?", Weight: 20},
		},
	},
	"marine": {
		Type:         "marine",
		Name:         "Marine Survey Report",
		Instructions: "Produce a marine survey report with complete vessel particulars, the checks performed with condition ratings, observations graded by severity, and prioritized recommendations.",
		Fields: []Field{
			{Key: "vesselInformation", Description: "Vessel name, IMO number, type, flag, year built and gross tonnage"},
			{Key: "surveyScope", Description: "Scope and purpose of the marine survey"},
			{Key: "surveyDate", Description: "Date of survey"},
			{Key: "surveyorDetails", Description: "Surveyor name and credentials"},
			{Key: "checksPerformed", Description: "Checks performed per system with a condition of Excellent, Good, Fair, Poor or Critical", List: true},
			{Key: "observations", Description: "Observations with location and a severity of Critical, Major, Minor or Informational", List: true},
			{Key: "recommendations", Description: "Recommendations with priority Immediate, High, Medium or Low and a timeframe", List: true},
			{Key: "overallAssessment", Description: "Overall vessel condition assessment"},
			{Key: "certificationStatus", Description: "Current certification status and validity"},
		},
		Required: []string{"vesselInformation", "surveyScope", "checksPerformed", "observations", "recommendations", "overallAssessment"},
		Checklist: []ChecklistItem{
			{ID: "vessel_details", Question: "Are vessel details complete and accurate?", Weight: 15},
			{ID: "survey_scope", Question: "Is the survey scope comprehensive and well-defined?", Weight: 20},
			{ID: "inspection_methodology", Question: "Is the inspection methodology clearly described?", Weight: 15},
			{ID: "findings_documentation", Question: "Are all findings properly documented with evidence?", Weight: 25},
			{ID: "recommendations", Question: "Are recommendations prioritized and actionable?", Weight: 25},
		},
	},
	"engineering": {
		Type:         "engineering",
		Name:         "Engineering Test Report",
		Instructions: "Produce an engineering test report covering project information, systems analyzed, tests with their standards and methodology, results against acceptance criteria, classified defects and corrective actions.",
		Fields: []Field{
			{Key: "projectInformation", Description: "Project name, number, location, client and lead engineer"},
			{Key: "scope", Description: "Detailed scope of engineering work and objectives"},
			{Key: "systemsAnalyzed", Description: "Systems and components analyzed", List: true},
			{Key: "testsConducted", Description: "Tests with standard, equipment, methodology and date", List: true},
			{Key: "resultsObtained", Description: "Measured parameters, results, acceptance criteria and Pass/Fail/Marginal status", List: true},
			{Key: "defectsIdentified", Description: "Defects with system, severity (Critical, Major, Minor, Cosmetic) and safety impact", List: true},
			{Key: "correctiveActions", Description: "Corrective actions with owner and due date", List: true},
			{Key: "conclusion", Description: "Conclusion and certification statement"},
		},
		Required: []string{"projectInformation", "scope", "testsConducted", "resultsObtained"},
		Checklist: []ChecklistItem{
			{ID: "scope_clarity", Question: "Is the scope of work clearly defined?", Weight: 20},
			{ID: "test_methodology", Question: "Are test methods and procedures well-documented?", Weight: 20},
			{ID: "results_accuracy", Question: "Are test results accurately recorded and analyzed?", Weight: 25},
			{ID: "defect_classification", Question: "Are defects properly classified and prioritized?", Weight: 20},
			{ID: "corrective_actions", Question: "Are corrective actions specific and implementable?", Weight: 15},
		},
	},
}

var aliases = map[string]string{
	"audit report":    "audit",
	"business report": "report",
	"hr policy":       "hr-policy",
	"hr_policy":       "hr-policy",
	"eng":             "engineering",
	"marine survey":   "marine",
	"bid":             "proposal",
}

func normalizeType(docType string) string {
	t := strings.ToLower(strings.TrimSpace(docType))
	if a, ok := aliases[t]; ok {
		return a
	}
	return t
}

// Lookup returns the template registered for docType.
func Lookup(docType string) (*Template, bool) {
	t, ok := templates[normalizeType(docType)]
	return t, ok
}

// TemplateFor returns the template for docType, falling back to the proposal template.
func TemplateFor(docType string) *Template {
	if t, ok := Lookup(docType); ok {
		return t
	}
	return templates[DefaultType]
}

// Types lists the registered document types.
func Types() []string {
	out := make([]string, 0, len(templates))
	for k := range templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SystemPrompt is the system message sent for generation.
func (t *Template) SystemPrompt() string {
	return baseInstructions + " " + t.Instructions
}

// Schema returns the strict JSON schema the completion must satisfy.
// Strict mode requires every property to be listed as required.
func (t *Template) Schema() map[string]any {
	props := make(map[string]any, len(t.Fields))
	keys := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.List {
			props[f.Key] = map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": f.Description,
			}
		} else {
			props[f.Key] = map[string]any{"type": "string", "description": f.Description}
		}
		keys = append(keys, f.Key)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             keys,
		"additionalProperties": false,
	}
}

// Missing returns the required sections absent or empty in content.
func (t *Template) Missing(content map[string]any) []string {
	var missing []string
	for _, key := range t.Required {
		v, ok := content[key]
		if !ok || isEmpty(v) {
			missing = append(missing, key)
		}
	}
	return missing
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
