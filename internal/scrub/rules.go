package scrub

// DefaultRules returns the default detection rules: the credential shapes
// that show up in scraped docs, wikis, and source trees. Patterns follow
// common gitleaks rules. Rules without keywords have self-identifying
// prefixes; the rest use a keyword pre-filter to keep scanning cheap.
func DefaultRules() []Rule {
	return []Rule{
		// Cloud providers
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     `(?i)(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`,
			Keywords:    []string{"aws", "access", "key"},
			Severity:    "high",
		},
		{
			ID:          "aws-secret-access-key",
			Description: "AWS Secret Access Key",
			Pattern:     `(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[:=]\s*['"]?([A-Za-z0-9/+=]{40})['"]?`,
			Keywords:    []string{"aws", "secret"},
			Severity:    "high",
		},
		{
			ID:          "google-api-key",
			Description: "Google API Key",
			Pattern:     `AIza[A-Za-z0-9_\-]{35}`,
			Keywords:    []string{"google"},
			Severity:    "high",
		},

		// Source forges (prefixes are self-identifying)
		{
			ID:          "github-token",
			Description: "GitHub Token (personal, OAuth, app)",
			Pattern:     `gh[opsu]_[A-Za-z0-9]{36}`,
			Severity:    "high",
		},
		{
			ID:          "github-fine-grained",
			Description: "GitHub Fine-grained Personal Access Token",
			Pattern:     `github_pat_[A-Za-z0-9_]{22,}`,
			Severity:    "high",
		},
		{
			ID:          "gitlab-token",
			Description: "GitLab Personal Access Token",
			Pattern:     `glpat-[A-Za-z0-9\-]{20,}`,
			Severity:    "high",
		},

		// SaaS tokens (prefixes are self-identifying)
		{
			ID:          "slack-token",
			Description: "Slack Token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
			Severity:    "high",
		},
		{
			ID:          "stripe-key",
			Description: "Stripe API Key",
			Pattern:     `(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`,
			Severity:    "high",
		},
		{
			ID:          "npm-token",
			Description: "npm Access Token",
			Pattern:     `npm_[A-Za-z0-9]{36}`,
			Severity:    "high",
		},

		// Model providers
		{
			ID:          "openai-api-key",
			Description: "OpenAI API Key",
			Pattern:     `sk-[A-Za-z0-9]{48,}`,
			Keywords:    []string{"openai"},
			Severity:    "high",
		},
		{
			ID:          "anthropic-api-key",
			Description: "Anthropic API Key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{90,}`,
			Keywords:    []string{"anthropic"},
			Severity:    "high",
		},

		// Generic credential assignments
		{
			ID:          "generic-api-key",
			Description: "Generic API Key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{16,64})['"]?`,
			Keywords:    []string{"api", "key"},
			Severity:    "high",
		},
		{
			ID:          "generic-secret",
			Description: "Generic secret or password assignment",
			Pattern:     `(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`,
			Keywords:    []string{"secret", "password"},
			Severity:    "high",
		},
		{
			ID:          "env-credential",
			Description: "Credential assigned to a well-known environment variable",
			Pattern:     `(?i)(?:^|[^A-Za-z0-9_])(?:DB_PASSWORD|DATABASE_PASSWORD|MYSQL_PASSWORD|POSTGRES_PASSWORD|REDIS_PASSWORD|MONGO_PASSWORD|API_SECRET|APP_SECRET|SECRET_KEY|ENCRYPTION_KEY|PRIVATE_KEY|AUTH_TOKEN|ACCESS_TOKEN|REFRESH_TOKEN)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`,
			Severity:    "high",
		},

		// Key material and connection strings
		{
			ID:          "private-key",
			Description: "Private key block (RSA, DSA, EC, OpenSSH, PGP)",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
			Severity:    "high",
		},
		{
			ID:          "database-url",
			Description: "Database connection URL with inline credentials",
			Pattern:     `(?i)(?:postgres|mysql|mongodb|redis|amqp)://[^:]+:[^@]+@[^\s]+`,
			Keywords:    []string{"postgres", "mysql", "mongodb", "redis", "amqp"},
			Severity:    "high",
		},

		// Tokens in transit
		{
			ID:          "jwt",
			Description: "JSON Web Token",
			Pattern:     `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
			Severity:    "medium",
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token in an Authorization header",
			Pattern:     `(?i)(?:authorization|bearer)\s*[:=]\s*['"]?bearer\s+([A-Za-z0-9_\-\.]{20,})['"]?`,
			Keywords:    []string{"authorization", "bearer"},
			Severity:    "medium",
		},
	}
}
