package config

import (
    "os"
    "path/filepath"
    "testing"
)

func writeTeamFile(t *testing.T, content string) Config {
    t.Helper()
    path := filepath.Join(t.TempDir(), "team.json")
    if err := os.WriteFile(path, []byte(content), 0o644); err != nil { t.Fatal(err) }
    return Config{TeamFile: path, SprintLengthDays: 7, SprintStartDay: "monday"}
}

const validTeam = `{
  "users": [
    {"id": "u1", "name": "Alice", "email": "alice@example.com", "jira_account_id": "jira-1", "active": true}
  ],
  "departments": [
    {"id": "eng", "name": "Engineering", "jira_project_key": "PROJ", "members": ["u1"]}
  ]
}`

func TestLoadTeam_ValidFileAndDefaults(t *testing.T) {
    cfg := writeTeamFile(t, validTeam)
    team, err := LoadTeam(cfg)
    if err != nil { t.Fatalf("load: %v", err) }

    dept, ok := team.Department("eng")
    if !ok { t.Fatal("department missing") }
    if dept.SprintLengthDays != 7 || dept.SprintStartDay != "monday" {
        t.Fatalf("sprint defaults not applied: %+v", dept)
    }
    if len(dept.Workflow) == 0 { t.Fatal("default workflow not applied") }

    u, ok := team.UserByExternal("jira", "jira-1")
    if !ok || u.ID != "u1" { t.Fatalf("user lookup = %+v ok=%v", u, ok) }
}

func TestLoadTeam_RejectsBadEmail(t *testing.T) {
    cfg := writeTeamFile(t, `{"users":[{"id":"u1","email":"not-an-email"}],"departments":[]}`)
    if _, err := LoadTeam(cfg); err == nil { t.Fatal("expected email validation error") }
}

func TestLoadTeam_RejectsUnknownMember(t *testing.T) {
    cfg := writeTeamFile(t, `{
      "users":[{"id":"u1","email":"a@b.com"}],
      "departments":[{"id":"eng","members":["ghost"]}]
    }`)
    if _, err := LoadTeam(cfg); err == nil { t.Fatal("expected unknown member error") }
}

func TestLoadTeam_RejectsDuplicateIDs(t *testing.T) {
    cfg := writeTeamFile(t, `{
      "users":[{"id":"u1","email":"a@b.com"},{"id":"u1","email":"c@d.com"}],
      "departments":[]
    }`)
    if _, err := LoadTeam(cfg); err == nil { t.Fatal("expected duplicate id error") }
}
