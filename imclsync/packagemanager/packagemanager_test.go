package packagemanager

import (
	"context"
	"errors"
	"testing"

	cm "github.com/steelcutops/imclsync/imclsync/commandmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCommandManager struct {
	mock.Mock
}

func (m *MockCommandManager) Run(ctx context.Context, config cm.CommandConfig) (cm.CommandResult, error) {
	args := m.Called(ctx, config)
	return args.Get(0).(cm.CommandResult), args.Error(1)
}

const imclPath = "/opt/IBM/InstallationManager/eclipse/tools/imcl"

func listConfig() cm.CommandConfig {
	return cm.CommandConfig{Command: imclPath, Args: []string{"listInstalledPackages"}}
}

func TestParsePackageList(t *testing.T) {
	out := "com.ibm.websphere.ND.v90_9.0.5007.20210301_1241\n\n  com.ibm.java.jdk.v8_8.0.6026.20210226_0840  \r\n"

	packages := ParsePackageList(out)

	assert.Equal(t, []string{
		"com.ibm.websphere.ND.v90_9.0.5007.20210301_1241",
		"com.ibm.java.jdk.v8_8.0.6026.20210226_0840",
	}, packages)
	assert.Empty(t, ParsePackageList(""))
	assert.Empty(t, ParsePackageList("\n \n"))
}

func TestContains(t *testing.T) {
	packages := []string{"com.ibm.websphere.ND.v90_9.0.5007", "com.ibm.java.jdk.v8"}

	assert.True(t, Contains(packages, "com.ibm.websphere.ND.v90", MatchContains), "prefix matches by containment")
	assert.False(t, Contains(packages, "com.ibm.websphere.ND.v90", MatchExact))
	assert.True(t, Contains(packages, "com.ibm.java.jdk.v8", MatchExact))
	assert.False(t, Contains(packages, "com.ibm.websphere.IHS", MatchContains))
	assert.False(t, Contains(packages, "", MatchContains))
	assert.False(t, Contains(nil, "com.ibm.java.jdk.v8", MatchContains))
}

func TestParseMatchMode(t *testing.T) {
	mode, err := ParseMatchMode("EXACT")
	require.NoError(t, err)
	assert.Equal(t, MatchExact, mode)

	mode, err = ParseMatchMode("")
	require.NoError(t, err)
	assert.Equal(t, MatchContains, mode)

	_, err = ParseMatchMode("regex")
	assert.Error(t, err)
}

func TestIMCLInventoryQuery(t *testing.T) {
	mockCmd := new(MockCommandManager)
	mockCmd.On("Run", mock.Anything, listConfig()).
		Return(cm.CommandResult{STDOUT: "pkg.a_1.0\npkg.b_2.0\n"}, nil)

	inventory := NewIMCLInventory(mockCmd, imclPath)
	packages, err := inventory.Query(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"pkg.a_1.0", "pkg.b_2.0"}, packages)
	mockCmd.AssertExpectations(t)
}

func TestIMCLInventoryIsInstalled(t *testing.T) {
	mockCmd := new(MockCommandManager)
	mockCmd.On("Run", mock.Anything, listConfig()).
		Return(cm.CommandResult{STDOUT: "pkg.a_1.0\n"}, nil)

	inventory := NewIMCLInventory(mockCmd, imclPath)

	ok, err := inventory.IsInstalled(context.Background(), "pkg.a")
	require.NoError(t, err)
	assert.True(t, ok)

	inventory.Match = MatchExact
	ok, err = inventory.IsInstalled(context.Background(), "pkg.a")
	require.NoError(t, err)
	assert.False(t, ok)

	// every call re-queries
	mockCmd.AssertNumberOfCalls(t, "Run", 2)
}

func TestIMCLInventorySudo(t *testing.T) {
	config := listConfig()
	config.Sudo = true

	mockCmd := new(MockCommandManager)
	mockCmd.On("Run", mock.Anything, config).Return(cm.CommandResult{}, nil)

	inventory := &IMCLInventory{CommandManager: mockCmd, ToolPath: imclPath, Sudo: true}
	packages, err := inventory.Query(context.Background())

	require.NoError(t, err)
	assert.Empty(t, packages)
	mockCmd.AssertExpectations(t)
}

func TestIMCLInventoryNonZeroExit(t *testing.T) {
	mockCmd := new(MockCommandManager)
	mockCmd.On("Run", mock.Anything, listConfig()).
		Return(cm.CommandResult{ExitCode: 1, STDOUT: "partial", STDERR: "CRIMA1217E lock held"}, nil)

	inventory := NewIMCLInventory(mockCmd, imclPath)
	ok, err := inventory.IsInstalled(context.Background(), "pkg.a")

	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrInventoryUnavailable))

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 1, unavailable.ExitCode)
	assert.Equal(t, "CRIMA1217E lock held", unavailable.Stderr)
	assert.Equal(t, "partial", unavailable.Stdout)
	assert.Contains(t, err.Error(), "exited with status 1")
}

func TestIMCLInventoryRunError(t *testing.T) {
	runErr := errors.New("ssh: handshake failed")
	mockCmd := new(MockCommandManager)
	mockCmd.On("Run", mock.Anything, listConfig()).Return(cm.CommandResult{ExitCode: -1}, runErr)

	inventory := NewIMCLInventory(mockCmd, imclPath)
	_, err := inventory.Query(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInventoryUnavailable))
	assert.True(t, errors.Is(err, runErr))
}

func TestMemoryInventory(t *testing.T) {
	inventory := NewMemoryInventory("pkg.a_1.0")
	ctx := context.Background()

	ok, err := inventory.IsInstalled(ctx, "pkg.b")
	require.NoError(t, err)
	assert.False(t, ok)

	inventory.Add("pkg.b_2.0")
	inventory.Add("pkg.b_2.0")
	packages, err := inventory.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg.a_1.0", "pkg.b_2.0"}, packages)

	assert.True(t, inventory.Remove("pkg.a_1.0"))
	assert.False(t, inventory.Remove("pkg.a_1.0"))

	ok, err = inventory.IsInstalled(ctx, "pkg.a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryInventoryQueryReturnsCopy(t *testing.T) {
	inventory := NewMemoryInventory("pkg.a")
	packages, _ := inventory.Query(context.Background())
	packages[0] = "mutated"

	again, _ := inventory.Query(context.Background())
	assert.Equal(t, []string{"pkg.a"}, again)
}

func TestMemoryInventoryError(t *testing.T) {
	inventory := NewMemoryInventory()
	inventory.Err = &UnavailableError{Command: "imcl listInstalledPackages", ExitCode: 3}

	_, err := inventory.IsInstalled(context.Background(), "pkg.a")
	assert.True(t, errors.Is(err, ErrInventoryUnavailable))
}
