//go:build !windows

package task

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedCVResult struct {
	Data    CVResult `json:"data"`
	Message string   `json:"message"`
}

func decodeCVResult(t *testing.T, task *domain.Task) storedCVResult {
	t.Helper()
	var res storedCVResult
	require.NoError(t, json.Unmarshal(task.Result, &res))
	return res
}

const generateScript = `
echo "generating $RESUMATE_TASK_ID"
cat > one.json <<'EOF'
{"personalInfo":{"name":"Ada Lovelace","title":"Engineer"},"skills":["go"]}
EOF
cat > two.json <<'EOF'
{"personalInfo":{"name":""},"summary":"missing a name"}
EOF
printf '{broken' > three.json
echo "::result::one.json"
echo "::result::two.json"
echo "::result::three.json"
`

func TestGenerateCVJob_Subprocess(t *testing.T) {
	env := newTestEnv()
	env.services.RegisterInstance(ServiceInterpreter, newShellInterpreter(t, generateCVScript, generateScript))
	job := NewGenerateCVJob(env.deps(), NewArtifactStore(nil, env.cvs, testLogger()), GenerateCVConfig{
		Mode:          ModeSubprocess,
		WorkspaceRoot: t.TempDir(),
	})
	meta := env.newMeta()

	require.NoError(t, job.Schedule(context.Background(), meta, GenerateCVPayload{Profile: "Go developer"}))

	task := env.tasks.get(t, meta.TaskID)
	require.Equal(t, domain.TaskStatusCompleted, task.Status, "error: %v", task.Error)
	res := decodeCVResult(t, task)
	require.Len(t, res.Data.CVs, 1)
	assert.Equal(t, "one.json", res.Data.CVs[0].Filename)
	assert.Equal(t, "Ada Lovelace", res.Data.CVs[0].Name)
	assert.Len(t, res.Data.Rejected, 2)
	assert.Equal(t, "Generated 1 CV", res.Message)

	cv, err := env.cvs.GetByID(context.Background(), res.Data.CVs[0].ID, meta.UserID)
	require.NoError(t, err)
	assert.Equal(t, GeneratorScript, cv.Content.Metadata.Generator)
	assert.Equal(t, SourceGeneration, cv.Content.Metadata.Source)
	assert.False(t, cv.Content.Metadata.CreatedAt.IsZero())
}

func TestGenerateCVJob_SubprocessNoValidArtifacts(t *testing.T) {
	env := newTestEnv()
	script := "printf '{}' > empty.json\necho '::result::empty.json'\n"
	env.services.RegisterInstance(ServiceInterpreter, newShellInterpreter(t, generateCVScript, script))
	job := NewGenerateCVJob(env.deps(), NewArtifactStore(nil, env.cvs, testLogger()), GenerateCVConfig{
		WorkspaceRoot: t.TempDir(),
	})
	meta := env.newMeta()

	require.NoError(t, job.Schedule(context.Background(), meta, GenerateCVPayload{Profile: "x"}))

	task := env.tasks.get(t, meta.TaskID)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	require.NotNil(t, task.Error)
	assert.Equal(t, NoValidCVMessage, *task.Error)
	assert.True(t, env.usage.refunded(meta.TaskID))
	assert.Empty(t, env.cvs.filenames(meta.UserID))
}

const importScript = `
test -f source.pdf || exit 4
test -f existing/cv.json || exit 5
cat > cv.json <<'EOF'
{"personalInfo":{"name":"Grace Hopper","title":"Rear Admiral"}}
EOF
echo "::result::cv.json"
`

func TestImportPDFJob(t *testing.T) {
	env := newTestEnv()
	env.services.RegisterInstance(ServiceInterpreter, newShellInterpreter(t, importPDFScript, importScript))
	meta := env.newMeta()
	env.addCV(t, meta.UserID, "cv.json", validDoc("Existing"))
	job := NewImportPDFJob(env.deps(), env.cvs, NewArtifactStore(nil, env.cvs, testLogger()), t.TempDir())

	err := job.Schedule(context.Background(), meta, ImportPDFPayload{
		Filename: "resume.pdf",
		PDF:      []byte("%PDF-1.7 fake"),
	})
	require.NoError(t, err)

	task := env.tasks.get(t, meta.TaskID)
	require.Equal(t, domain.TaskStatusCompleted, task.Status, "error: %v", task.Error)
	res := decodeCVResult(t, task)
	require.Len(t, res.Data.CVs, 1)
	assert.Equal(t, "cv-1.json", res.Data.CVs[0].Filename, "existing file is never overwritten")
	assert.Equal(t, "Imported 1 CV", res.Message)
	assert.ElementsMatch(t, []string{"cv.json", "cv-1.json"}, env.cvs.filenames(meta.UserID))

	cv, err := env.cvs.GetByID(context.Background(), res.Data.CVs[0].ID, meta.UserID)
	require.NoError(t, err)
	assert.Equal(t, SourceImport, cv.Content.Metadata.Source)
}
