package sqlite

const schema = `
-- Issues table: one row per Jira issue key, overwritten on re-extraction.
CREATE TABLE IF NOT EXISTS issues (
    id TEXT NOT NULL,
    key TEXT PRIMARY KEY,
    project_key TEXT,
    project_name TEXT,
    issue_type TEXT,
    status TEXT,
    priority TEXT,
    summary TEXT,
    description TEXT,
    assignee TEXT,
    reporter TEXT,
    created DATETIME,
    updated DATETIME,
    resolved DATETIME,
    due_date DATETIME,
    labels TEXT NOT NULL DEFAULT '[]',
    components TEXT NOT NULL DEFAULT '[]',
    fix_versions TEXT NOT NULL DEFAULT '[]',
    affects_versions TEXT NOT NULL DEFAULT '[]',
    custom_fields TEXT,
    extracted_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issues_project_key ON issues(project_key);
CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);
CREATE INDEX IF NOT EXISTS idx_issues_updated ON issues(updated);

-- Extraction log: append-only audit trail, one row per completed run.
CREATE TABLE IF NOT EXISTS extraction_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_key TEXT NOT NULL,
    start_date DATETIME,
    end_date DATETIME,
    issues_extracted INTEGER NOT NULL DEFAULT 0,
    extraction_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_extraction_log_project ON extraction_log(project_key, extraction_time);
`
