package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lab-inventory/internal/fetcher"
	"github.com/sells-group/lab-inventory/internal/schema"
)

func TestTemplateCommand_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.xlsx")
	templateOutput = path
	t.Cleanup(func() { templateOutput = "inventory_template.xlsx" })

	require.NoError(t, templateCmd.RunE(templateCmd, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := fetcher.ReadXLSX(data, fetcher.XLSXOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, schema.Labels(), rows[0])
}

func TestTemplateCommand_Stdout(t *testing.T) {
	templateOutput = "-"
	t.Cleanup(func() { templateOutput = "inventory_template.xlsx" })

	var buf bytes.Buffer
	templateCmd.SetOut(&buf)
	t.Cleanup(func() { templateCmd.SetOut(nil) })

	require.NoError(t, templateCmd.RunE(templateCmd, nil))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PK")))
}
