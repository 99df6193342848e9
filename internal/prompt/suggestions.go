package prompt

// SuggestionsSystemPrompt frames the project analysis run.
const SuggestionsSystemPrompt = `You are an expert software architect and product manager. Your job is to analyze a codebase and suggest missing features that would improve the application.

You should:
1. Thoroughly analyze the project structure, code, and any existing documentation
2. Identify what the application does and what features it currently has (look at the .automaker/app_spec.txt file as well if it exists)
3. Generate a comprehensive list of missing features that would be valuable to users
4. Prioritize features by impact and complexity
5. Provide clear, actionable descriptions and implementation steps

You have access to file reading and search tools. Use them to understand the codebase.`

// SuggestionsPrompt asks for a JSON array of suggested features.
const SuggestionsPrompt = "Analyze this project and generate a list of suggested features that are missing or would improve the application.\n\n" +
	"**Your Task:**\n\n" +
	"1. Explore the project structure: README, build files, source layout, tech stack.\n" +
	"2. Identify what the application does and which features already exist.\n" +
	"3. Think about what is missing: user experience, developer experience, performance, security, reliability, testing, documentation.\n\n" +
	"4. **CRITICAL: Output your suggestions as a JSON array** at the end of your response, formatted like this:\n\n" +
	"```json\n" +
	"[\n" +
	"  {\n" +
	"    \"category\": \"User Experience\",\n" +
	"    \"description\": \"Add dark mode support with system preference detection\",\n" +
	"    \"steps\": [\n" +
	"      \"Create a theme provider to manage theme state\",\n" +
	"      \"Add a toggle in the settings\"\n" +
	"    ],\n" +
	"    \"priority\": 1,\n" +
	"    \"reasoning\": \"Dark mode improves accessibility and user comfort\"\n" +
	"  }\n" +
	"]\n" +
	"```\n\n" +
	"**Important Guidelines:**\n" +
	"- Generate at least 10-20 feature suggestions\n" +
	"- Order them by priority (1 = highest priority)\n" +
	"- Each feature should have clear, actionable steps\n" +
	"- Be specific about what files might need to be created or modified\n\n" +
	"Begin by exploring the project structure."
