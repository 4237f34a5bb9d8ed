package synth

import (
	"fmt"
	"strings"

	"argochat/internal/history"
	"argochat/internal/intent"
	"argochat/internal/safety"
)

const persona = "You are a specialized SQL generator for oceanographic ARGO float data. " +
	"Your task is to convert natural language queries into precise SQL SELECT statements."

const sectionRule = "----------------------------------------"

type example struct {
	query string
	sql   string
}

// Worked examples shown to the model on every request. They demonstrate the
// join topology, quality filtering, and the proximity predicate shape.
var fewShot = []example{
	{
		query: "Show me all temperature measurements from float 5904471",
		sql: "SELECT p.temperature, p.depth, c.profile_date, c.latitude, c.longitude " +
			"FROM profiles p JOIN cycles c ON p.cycle_id = c.cycle_id " +
			"JOIN floats f ON c.float_id = f.float_id " +
			"WHERE f.float_id = '5904471' AND p.temperature IS NOT NULL " +
			"ORDER BY c.profile_date, p.depth;",
	},
	{
		query: "Find the deepest measurement for each float in the Pacific Ocean",
		sql: "SELECT f.float_id, f.platform_type, MAX(p.depth) as max_depth, " +
			"COUNT(p.profile_id) as total_measurements " +
			"FROM floats f JOIN cycles c ON f.float_id = c.float_id " +
			"JOIN profiles p ON c.cycle_id = p.cycle_id " +
			"WHERE c.longitude BETWEEN -180 AND -60 AND c.latitude BETWEEN -60 AND 60 " +
			"GROUP BY f.float_id, f.platform_type ORDER BY max_depth DESC;",
	},
	{
		query: "What is the average salinity at 1000 meter depth across all floats?",
		sql: "SELECT AVG(p.salinity) as avg_salinity, COUNT(*) as measurement_count " +
			"FROM profiles p WHERE p.depth BETWEEN 950 AND 1050 " +
			"AND p.salinity IS NOT NULL AND p.quality_flag IN (1, 2);",
	},
	{
		query: "Show me temperature measurements near Mumbai",
		sql: "SELECT p.temperature, p.depth, c.profile_date, c.latitude, c.longitude, " +
			"(6371 * acos(cos(radians(19.0760)) * cos(radians(c.latitude)) * " +
			"cos(radians(c.longitude) - radians(72.8777)) + " +
			"sin(radians(19.0760)) * sin(radians(c.latitude)))) as distance_km " +
			"FROM profiles p JOIN cycles c ON p.cycle_id = c.cycle_id " +
			"WHERE (6371 * acos(cos(radians(19.0760)) * cos(radians(c.latitude)) * " +
			"cos(radians(c.longitude) - radians(72.8777)) + " +
			"sin(radians(19.0760)) * sin(radians(c.latitude)))) <= 500 " +
			"AND p.temperature IS NOT NULL AND p.quality_flag IN (1, 2) " +
			"ORDER BY distance_km, c.profile_date;",
	},
}

const fallbackGuidance = `IF NO RESULTS FOUND:
- Try removing geographic constraints to check if data exists
- Consider using broader geographic boundaries
- Check if location is outside ARGO deployment areas
- Try querying for global data with ORDER BY distance from target location`

func renderConstraints(maxRows int) string {
	var b strings.Builder
	b.WriteString("CRITICAL SAFETY CONSTRAINTS:\n")
	b.WriteString("1. ONLY generate SELECT statements. Never generate INSERT, UPDATE, DELETE, DROP, CREATE, or ALTER statements.\n")
	b.WriteString("2. Only reference the tables, columns, and functions listed in the schema below.\n")
	b.WriteString("3. Use proper JOINs to connect related tables.\n")
	b.WriteString("4. Include quality control filters (quality_flag IN (1, 2)) for measurement data.\n")
	b.WriteString("5. Handle NULL values appropriately with IS NOT NULL or COALESCE.\n")
	fmt.Fprintf(&b, "6. Include a LIMIT clause of at most %d rows.\n", maxRows)
	b.WriteString("7. Generate exactly one statement, with no comments.\n")
	b.WriteString("8. When location context is provided, use geographic proximity queries with proper coordinate filtering.")
	return b.String()
}

func renderSchema(policy *safety.Policy) string {
	var b strings.Builder
	b.WriteString("DATABASE SCHEMA:\n")
	for i, t := range policy.Tables {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Table: %s\n", t.Name)
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "- %s (%s): %s\n", c.Name, c.Type, c.Doc)
		}
	}
	fmt.Fprintf(&b, "\nCallable functions: %s", strings.Join(policy.Functions, ", "))
	return b.String()
}

func renderHistory(turns []history.Turn) string {
	var lines []string
	for _, t := range turns {
		if t.Role == history.RoleSystem {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	if len(lines) == 0 {
		return ""
	}
	return "CONVERSATION HISTORY:\n" + strings.Join(lines, "\n")
}

func renderGeo(req Request) string {
	ref := req.Geo
	if ref == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("GEOGRAPHIC CONTEXT:\n")
	fmt.Fprintf(&b, "User mentioned: %s\n", ref.Name)
	fmt.Fprintf(&b, "Coordinates: %v, %v\n", ref.Lat, ref.Lon)
	fmt.Fprintf(&b, "SQL proximity condition for within %vkm, to include verbatim in the WHERE clause:\n", ref.RadiusKm)
	b.WriteString(ref.SQLCondition("c.latitude", "c.longitude"))
	return b.String()
}

func renderExamples() string {
	var b strings.Builder
	b.WriteString("FEW-SHOT EXAMPLES:\n")
	for i, ex := range fewShot {
		fmt.Fprintf(&b, "\nExample %d:\n", i+1)
		fmt.Fprintf(&b, "Human: %s\n", ex.query)
		fmt.Fprintf(&b, "SQL: %s\n", ex.sql)
		b.WriteString(sectionRule + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderGuidelines(req Request) string {
	var b strings.Builder
	b.WriteString("IMPORTANT GUIDELINES:\n")
	b.WriteString("- Only generate a single SQL SELECT statement\n")
	b.WriteString("- Use proper table aliases for readability\n")
	b.WriteString("- Include appropriate JOINs to connect related tables\n")
	b.WriteString("- Add quality control filters for measurement data\n")
	b.WriteString("- Use LIMIT if the query might return many rows\n")
	b.WriteString("- Handle NULL values appropriately\n")
	b.WriteString("- If the user query mentions location, map, or coordinates, you MUST include the c.latitude and c.longitude columns from the cycles table in the SELECT statement.\n")
	b.WriteString("- When geographic context is provided, use the Haversine formula for proximity searches with the cycles table (aliased as 'c')\n")
	b.WriteString("- Return only the SQL statement, no explanations\n")
	b.WriteString("- PAY SPECIAL ATTENTION TO THE CONVERSATION HISTORY ABOVE - use it to understand the context of follow-up questions\n")
	b.WriteString("- If the user asks a follow-up question without specifying details, infer the context from the previous conversation")
	if req.Intent == intent.Map {
		b.WriteString("\n- The user asked for locations on a map: select c.latitude and c.longitude")
	}
	if req.Geo != nil {
		b.WriteString("\n\n" + fallbackGuidance)
	}
	return b.String()
}

func renderRejection(req Request) string {
	if req.RejectionReason == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("PREVIOUS ATTEMPT WAS REJECTED:\n")
	if req.RejectedSQL != "" {
		b.WriteString(req.RejectedSQL + "\n")
	}
	fmt.Fprintf(&b, "Reason: %s\n", req.RejectionReason)
	b.WriteString("Generate a corrected statement that satisfies the constraints above.")
	return b.String()
}

// BuildPrompt assembles the full prompt for one synthesis attempt. The
// assembly is deterministic: the same request always yields the same text.
func BuildPrompt(policy *safety.Policy, req Request) string {
	sections := []string{
		persona,
		renderHistory(req.Context),
		renderConstraints(policy.MaxRows),
		renderSchema(policy),
		renderGeo(req),
		renderExamples(),
		"USER QUERY: " + req.Utterance,
		"Based on the provided context, database schema, conversation history, and examples, " +
			"generate a SQL SELECT statement that accurately answers the user's query.",
		renderGuidelines(req),
		renderRejection(req),
		"SQL:",
	}
	var kept []string
	for _, s := range sections {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}
