package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steelcutops/imclsync/imclsync/clock"
	cm "github.com/steelcutops/imclsync/imclsync/commandmanager"
	pm "github.com/steelcutops/imclsync/imclsync/packagemanager"
)

const (
	imcl  = "/opt/IBM/InstallationManager/eclipse/tools/imcl"
	ndPkg = "com.ibm.websphere.ND.v90_9.0.5007.20210301_1241"
)

var fixedTime = time.Date(2021, 3, 1, 12, 41, 0, 0, time.UTC)

func testSpec() InstallSpec {
	return InstallSpec{
		Name:                     ndPkg,
		ToolPath:                 imcl,
		Repositories:             []string{"/mnt/repos/WAS90"},
		InstallationDirectory:    "/opt/IBM/WebSphere/AppServer",
		SharedResourcesDirectory: "/opt/IBM/IMShared",
	}
}

func newTestReconciler(fake *fakeIMCL, opts ...Option) *Reconciler {
	opts = append([]Option{
		WithClock(clock.NewFakeClock(fixedTime)),
		WithRunID(func() string { return "0b7c1a2e-5d4f-4c1e-9a51-1f0a8b3c2d11" }),
	}, opts...)
	return New(fake, opts...)
}

func TestReconcilePresentIsIdempotent(t *testing.T) {
	fake := newFakeIMCL()
	r := newTestReconciler(fake)

	first := r.Reconcile(context.Background(), testSpec(), StatePresent, false)
	require.False(t, first.Failed, first.Message)
	assert.True(t, first.Changed)
	assert.Equal(t, ActionInstalled, first.Action)

	second := r.Reconcile(context.Background(), testSpec(), StatePresent, false)
	assert.False(t, second.Failed)
	assert.False(t, second.Changed)
	assert.Equal(t, ActionNoOp, second.Action)
	assert.Equal(t, "Package "+ndPkg+" is already present.", second.Message)

	assert.Equal(t, []string{"listInstalledPackages", "install", "listInstalledPackages"}, fake.verbs())
}

func TestReconcileTransitions(t *testing.T) {
	tests := []struct {
		name      string
		installed bool
		desired   DesiredState
		action    Action
		changed   bool
		verbs     []string
	}{
		{"present and installed", true, StatePresent, ActionNoOp, false, []string{"listInstalledPackages"}},
		{"present and missing", false, StatePresent, ActionInstalled, true, []string{"listInstalledPackages", "install"}},
		{"update and installed", true, StateUpdated, ActionNoOp, false, []string{"listInstalledPackages"}},
		{"update and missing", false, StateUpdated, ActionUpdated, true, []string{"listInstalledPackages", "install"}},
		{"absent and installed", true, StateAbsent, ActionUninstalled, true, []string{"listInstalledPackages", "uninstall"}},
		{"absent and missing", false, StateAbsent, ActionNoOp, false, []string{"listInstalledPackages"}},
		{"rollback and installed", true, StateRolledBack, ActionRolledBack, true, []string{"rollback"}},
		{"rollback and missing", false, StateRolledBack, ActionRolledBack, true, []string{"rollback"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeIMCL()
			if tt.installed {
				fake.inventory.Add(ndPkg)
			}
			r := newTestReconciler(fake)

			res := r.Reconcile(context.Background(), testSpec(), tt.desired, false)

			assert.False(t, res.Failed, res.Message)
			assert.Equal(t, tt.action, res.Action)
			assert.Equal(t, tt.changed, res.Changed)
			assert.Equal(t, tt.verbs, fake.verbs())
			assert.Equal(t, ndPkg, res.Package)
			assert.Equal(t, tt.desired, res.State)
			assert.Equal(t, KindNone, res.ErrorKind)
			assert.NoError(t, res.Error())
			assert.NotEmpty(t, res.Message)
		})
	}
}

func TestReconcileDryRunNeverMutates(t *testing.T) {
	tests := []struct {
		installed bool
		desired   DesiredState
		action    Action
		changed   bool
		message   string
	}{
		{true, StatePresent, ActionNoOp, false, "Package " + ndPkg + " is already present."},
		{false, StatePresent, ActionInstalled, true, "Package " + ndPkg + " will be installed to location /opt/IBM/WebSphere/AppServer"},
		{true, StateUpdated, ActionNoOp, false, "Package " + ndPkg + " is already present."},
		{false, StateUpdated, ActionUpdated, true, "Package " + ndPkg + " will be updated"},
		{true, StateAbsent, ActionUninstalled, true, "Package " + ndPkg + " will be removed"},
		{false, StateAbsent, ActionNoOp, false, "Package " + ndPkg + " is not installed. Nothing to remove."},
		{true, StateRolledBack, ActionRolledBack, true, "Package " + ndPkg + " will be rolled back"},
		{false, StateRolledBack, ActionRolledBack, true, "Package " + ndPkg + " will be rolled back"},
	}

	for _, tt := range tests {
		fake := newFakeIMCL()
		if tt.installed {
			fake.inventory.Add(ndPkg)
		}
		r := newTestReconciler(fake)

		res := r.Reconcile(context.Background(), testSpec(), tt.desired, true)

		assert.False(t, res.Failed)
		assert.True(t, res.DryRun)
		assert.Equal(t, tt.action, res.Action, "%s installed=%v", tt.desired, tt.installed)
		assert.Equal(t, tt.changed, res.Changed, "%s installed=%v", tt.desired, tt.installed)
		assert.Equal(t, tt.message, res.Message)
		assert.Zero(t, fake.mutatingCalls(), "%s installed=%v issued a mutating command", tt.desired, tt.installed)
		if tt.desired == StateRolledBack {
			assert.Empty(t, fake.verbs(), "rollback dry-run must not call the tool")
		}
		if tt.changed {
			assert.NotEmpty(t, res.Command, "dry-run reports the command it would run")
		}
	}
}

func TestReconcileInstallFailure(t *testing.T) {
	fake := newFakeIMCL()
	fake.results["install"] = cm.CommandResult{
		ExitCode: 1,
		STDOUT:   "Preparing...",
		STDERR:   "ERROR: CRIMC1029E Adding a repository failed.\n  Repository: /mnt/repos/WAS90\n",
	}
	r := newTestReconciler(fake)

	res := r.Reconcile(context.Background(), testSpec(), StatePresent, false)

	assert.True(t, res.Failed)
	assert.False(t, res.Changed)
	assert.Equal(t, ActionInstalled, res.Action)
	assert.Equal(t, KindActionFailed, res.ErrorKind)
	assert.Equal(t, "ERROR: CRIMC1029E Adding a repository failed.\n  Repository: /mnt/repos/WAS90\n", res.Stderr)
	assert.Equal(t, "Preparing...", res.Stdout)
	assert.Contains(t, res.Message, "Failed to install package "+ndPkg)
	assert.True(t, errors.Is(res.Error(), ErrNonZeroExit))
	assert.Equal(t, KindActionFailed, KindOf(res.Error()))

	// no retry
	assert.Equal(t, []string{"listInstalledPackages", "install"}, fake.verbs())
}

func TestReconcileActionRunError(t *testing.T) {
	fake := newFakeIMCL(ndPkg)
	runErr := errors.New("ssh: unexpected packet in response to channel open")
	fake.errs["uninstall"] = runErr
	r := newTestReconciler(fake)

	res := r.Reconcile(context.Background(), testSpec(), StateAbsent, false)

	assert.True(t, res.Failed)
	assert.False(t, res.Changed)
	assert.Equal(t, ActionUninstalled, res.Action)
	assert.Equal(t, KindActionFailed, res.ErrorKind)
	assert.True(t, errors.Is(res.Error(), runErr))
}

func TestReconcileInventoryUnavailable(t *testing.T) {
	for _, desired := range []DesiredState{StatePresent, StateUpdated, StateAbsent} {
		for _, dryRun := range []bool{false, true} {
			fake := newFakeIMCL(ndPkg)
			fake.results["listInstalledPackages"] = cm.CommandResult{ExitCode: 1, STDERR: "CRIMA1217E A problem occurred"}
			metrics := &fakeMetrics{}
			r := newTestReconciler(fake, WithMetrics(metrics))

			res := r.Reconcile(context.Background(), testSpec(), desired, dryRun)

			assert.True(t, res.Failed, "%s dry=%v", desired, dryRun)
			assert.False(t, res.Changed)
			assert.Equal(t, ActionNoOp, res.Action)
			assert.Equal(t, KindInventoryUnavailable, res.ErrorKind)
			assert.Equal(t, "CRIMA1217E A problem occurred", res.Stderr)
			assert.True(t, errors.Is(res.Error(), pm.ErrInventoryUnavailable))
			assert.Zero(t, fake.mutatingCalls())
			assert.Equal(t, 1, metrics.unavailable)
		}
	}
}

func TestReconcileRollbackSkipsInventory(t *testing.T) {
	fake := newFakeIMCL()
	fake.results["listInstalledPackages"] = cm.CommandResult{ExitCode: 1}
	r := newTestReconciler(fake)

	res := r.Reconcile(context.Background(), testSpec(), StateRolledBack, false)

	assert.False(t, res.Failed, res.Message)
	assert.True(t, res.Changed)
	assert.Equal(t, ActionRolledBack, res.Action)
	assert.Equal(t, []string{"rollback"}, fake.verbs())
	assert.Equal(t, cm.CommandConfig{Command: imcl, Args: []string{"rollback", ndPkg}}, fake.lastCall())
}

func TestReconcileConfigurationError(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*InstallSpec)
		desired DesiredState
		want    string
	}{
		{"present without repository", func(s *InstallSpec) { s.Repositories = nil }, StatePresent, "repositories is required for state present"},
		{"present with empty repository list", func(s *InstallSpec) { s.Repositories = []string{} }, StatePresent, "repositories needs at least 1 entry"},
		{"present with blank repository", func(s *InstallSpec) { s.Repositories = []string{""} }, StatePresent, "repositories[0] is required"},
		{"present without dest", func(s *InstallSpec) { s.InstallationDirectory = "" }, StatePresent, "dest is required for state present"},
		{"update without repository", func(s *InstallSpec) { s.Repositories = nil }, StateUpdated, "repositories is required for state update"},
		{"update without shared", func(s *InstallSpec) { s.SharedResourcesDirectory = "" }, StateUpdated, "shared_resources_dir is required"},
		{"absent without name", func(s *InstallSpec) { s.Name = "" }, StateAbsent, "name is required for state absent"},
		{"rollback without tool", func(s *InstallSpec) { s.ToolPath = "" }, StateRolledBack, "tool_path is required"},
		{"half secure storage pair", func(s *InstallSpec) { s.SecureStorageFile = "/root/secure.store" }, StatePresent, "master_password_file is required when secure_storage_file is set"},
		{"unknown state", func(s *InstallSpec) {}, DesiredState("latest"), "unknown desired state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeIMCL()
			r := newTestReconciler(fake)
			spec := testSpec()
			tt.mutate(&spec)

			for _, dryRun := range []bool{false, true} {
				res := r.Reconcile(context.Background(), spec, tt.desired, dryRun)

				assert.True(t, res.Failed)
				assert.False(t, res.Changed)
				assert.Equal(t, KindConfiguration, res.ErrorKind)
				assert.Contains(t, res.Message, tt.want)
			}
			assert.Empty(t, fake.verbs(), "configuration errors are detected before any external call")
		})
	}
}

func TestReconcileOnlyIdentifierNeededForAbsent(t *testing.T) {
	fake := newFakeIMCL(ndPkg)
	r := newTestReconciler(fake)

	res := r.Reconcile(context.Background(), InstallSpec{Name: ndPkg, ToolPath: imcl}, StateAbsent, false)

	assert.False(t, res.Failed, res.Message)
	assert.Equal(t, ActionUninstalled, res.Action)
}

func TestReconcileCommandLines(t *testing.T) {
	spec := testSpec()
	spec.Repositories = []string{"/mnt/repos/WAS90", "https://repo.example.com/ihs"}
	spec.Properties = map[string]string{"user.import.profile": "false", "cic.selector.nl": "en"}
	spec.SecureStorageFile = "/root/secure.store"
	spec.MasterPasswordFile = "/root/master.txt"
	spec.LogDirectory = "/var/log/imcl"

	log := "/var/log/imcl/imcl-install-20210301T124100Z-0b7c1a2e.log"

	fake := newFakeIMCL()
	r := newTestReconciler(fake)
	res := r.Reconcile(context.Background(), spec, StatePresent, false)
	require.False(t, res.Failed, res.Message)

	assert.Equal(t, cm.CommandConfig{Command: imcl, Args: []string{
		"-acceptLicense",
		"-repositories", "/mnt/repos/WAS90,https://repo.example.com/ihs",
		"-installationDirectory", "/opt/IBM/WebSphere/AppServer",
		"-log", log,
		"-sharedResourcesDirectory", "/opt/IBM/IMShared",
		"install", ndPkg,
		"-properties", "cic.selector.nl=en,user.import.profile=false",
		"-secureStorageFile", "/root/secure.store",
		"-masterPasswordFile", "/root/master.txt",
	}}, fake.lastCall())
	assert.Contains(t, res.Message, log)

	fake = newFakeIMCL()
	r = newTestReconciler(fake)
	res = r.Reconcile(context.Background(), testSpec(), StateUpdated, false)
	require.False(t, res.Failed, res.Message)
	assert.Equal(t, cm.CommandConfig{Command: imcl, Args: []string{
		"-acceptLicense",
		"-sharedResourcesDirectory", "/opt/IBM/IMShared",
		"install", ndPkg,
		"-repositories", "/mnt/repos/WAS90",
		"-log", "/tmp/imcl-update-20210301T124100Z-0b7c1a2e.log",
	}}, fake.lastCall())

	fake = newFakeIMCL(ndPkg)
	r = newTestReconciler(fake)
	res = r.Reconcile(context.Background(), testSpec(), StateAbsent, false)
	require.False(t, res.Failed, res.Message)
	assert.Equal(t, cm.CommandConfig{Command: imcl, Args: []string{
		"uninstall", ndPkg,
		"-log", "/tmp/imcl-uninstall-20210301T124100Z-0b7c1a2e.log",
	}}, fake.lastCall())
	assert.Equal(t, imcl+" uninstall "+ndPkg+" -log /tmp/imcl-uninstall-20210301T124100Z-0b7c1a2e.log", res.Command)
}

func TestBuildCommandRejectsActionsWithoutCommand(t *testing.T) {
	for _, action := range []Action{ActionNoOp, Action("upgrade")} {
		config, err := BuildCommand(testSpec(), action, "/tmp/imcl.log")
		assert.Error(t, err, action)
		assert.Equal(t, cm.CommandConfig{}, config)
	}

	config, err := BuildCommand(testSpec(), ActionRolledBack, "")
	require.NoError(t, err)
	assert.Equal(t, cm.CommandConfig{Command: imcl, Args: []string{"rollback", ndPkg}}, config)
}

func TestReconcileQuotesUserValues(t *testing.T) {
	spec := testSpec()
	spec.Repositories = []string{"/mnt/repos/WAS 90; rm -rf /"}

	fake := newFakeIMCL()
	r := newTestReconciler(fake)
	res := r.Reconcile(context.Background(), spec, StatePresent, true)

	assert.Contains(t, res.Command, "-repositories '/mnt/repos/WAS 90; rm -rf /'")
}

func TestLogPathIsUniquePerInvocation(t *testing.T) {
	c := clock.NewFakeClock(fixedTime)
	ids := []string{"aaaaaaaa-1", "bbbbbbbb-2"}
	n := 0
	fake := newFakeIMCL()
	r := New(fake, WithClock(c), WithRunID(func() string { n++; return ids[n-1] }))

	first := r.Reconcile(context.Background(), testSpec(), StatePresent, true)
	second := r.Reconcile(context.Background(), testSpec(), StatePresent, true)

	assert.Contains(t, first.Command, "/tmp/imcl-install-20210301T124100Z-aaaaaaaa.log")
	assert.Contains(t, second.Command, "/tmp/imcl-install-20210301T124100Z-bbbbbbbb.log")
}

func TestReconcileSubstringMatch(t *testing.T) {
	fake := newFakeIMCL(ndPkg)
	spec := testSpec()
	spec.Name = "com.ibm.websphere.ND.v90"

	res := newTestReconciler(fake).Reconcile(context.Background(), spec, StatePresent, false)
	assert.Equal(t, ActionNoOp, res.Action, "a prefix of an installed package counts as installed")

	res = newTestReconciler(fake, WithMatch(pm.MatchExact)).Reconcile(context.Background(), spec, StatePresent, true)
	assert.Equal(t, ActionInstalled, res.Action)
}

func TestReconcileSudo(t *testing.T) {
	fake := newFakeIMCL()
	r := newTestReconciler(fake, WithSudo(true))

	res := r.Reconcile(context.Background(), testSpec(), StatePresent, false)
	require.False(t, res.Failed, res.Message)

	for _, call := range fake.calls {
		assert.True(t, call.Sudo, "%v", call.Args)
	}
	assert.True(t, len(res.Command) > 8 && res.Command[:8] == "sudo -S ")
}

func TestReconcileCustomInventory(t *testing.T) {
	fake := newFakeIMCL()
	inventory := pm.NewMemoryInventory(ndPkg)
	r := newTestReconciler(fake, WithInventory(inventory))

	res := r.Reconcile(context.Background(), testSpec(), StateAbsent, false)

	assert.Equal(t, ActionUninstalled, res.Action)
	assert.Equal(t, []string{"uninstall"}, fake.verbs())
}

func TestReconcilePreflight(t *testing.T) {
	fake := newFakeIMCL()
	probe := &fakeProbe{exists: false}
	r := newTestReconciler(fake, WithProbe(probe))

	res := r.Reconcile(context.Background(), testSpec(), StatePresent, false)

	assert.True(t, res.Failed)
	assert.Equal(t, KindConfiguration, res.ErrorKind)
	assert.Equal(t, []string{imcl}, probe.paths)
	assert.Empty(t, fake.verbs())

	probe = &fakeProbe{err: errors.New("connection refused")}
	r = newTestReconciler(fake, WithProbe(probe))
	res = r.Reconcile(context.Background(), testSpec(), StateAbsent, false)
	assert.True(t, res.Failed)
	assert.Equal(t, KindInventoryUnavailable, res.ErrorKind)

	probe = &fakeProbe{exists: true}
	r = newTestReconciler(fake, WithProbe(probe))
	res = r.Reconcile(context.Background(), testSpec(), StateRolledBack, true)
	assert.False(t, res.Failed)
	assert.Empty(t, probe.paths, "dry-run rollback makes no external call")
}

func TestReconcileCancelledBeforeAction(t *testing.T) {
	fake := newFakeIMCL()
	ctx, cancel := context.WithCancel(context.Background())
	fake.onRun = func(_ context.Context, verb string) {
		if verb == "listInstalledPackages" {
			cancel()
		}
	}
	r := newTestReconciler(fake)

	res := r.Reconcile(ctx, testSpec(), StatePresent, false)

	assert.True(t, res.Failed)
	assert.Equal(t, KindActionFailed, res.ErrorKind)
	assert.True(t, errors.Is(res.Error(), context.Canceled))
	assert.Zero(t, fake.mutatingCalls())
}

func TestReconcileActionIgnoresLaterCancellation(t *testing.T) {
	fake := newFakeIMCL()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var actionErr error
	var hasDeadline bool
	fake.onRun = func(actx context.Context, verb string) {
		if verb == "install" {
			cancel()
			actionErr = actx.Err()
			_, hasDeadline = actx.Deadline()
		}
	}
	r := newTestReconciler(fake, WithActionTimeout(time.Hour))

	res := r.Reconcile(ctx, testSpec(), StatePresent, false)

	assert.False(t, res.Failed, res.Message)
	assert.NoError(t, actionErr)
	assert.True(t, hasDeadline)
}

func TestReconcileResponseFileIgnored(t *testing.T) {
	fake := newFakeIMCL()
	spec := testSpec()
	spec.ResponseFile = "/was90/InstallResponse.xml"

	res := newTestReconciler(fake).Reconcile(context.Background(), spec, StatePresent, false)

	assert.False(t, res.Failed)
	assert.NotContains(t, res.Command, "InstallResponse.xml")
}

func TestReconcileMetrics(t *testing.T) {
	fake := newFakeIMCL()
	metrics := &fakeMetrics{}
	r := newTestReconciler(fake, WithMetrics(metrics))

	r.Reconcile(context.Background(), testSpec(), StatePresent, false)
	r.Reconcile(context.Background(), testSpec(), StatePresent, false)

	assert.Equal(t, []observation{
		{"present", "installed", true, false},
		{"present", "noop", false, false},
	}, metrics.observations)
}

func TestResultJSON(t *testing.T) {
	fake := newFakeIMCL()
	fake.results["install"] = cm.CommandResult{ExitCode: 2, STDERR: "boom"}
	r := newTestReconciler(fake)

	failed := r.Reconcile(context.Background(), testSpec(), StatePresent, false)
	data, err := json.Marshal(failed)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "ActionFailed", doc["error_kind"])
	assert.Equal(t, "installed", doc["action"])
	assert.Equal(t, true, doc["failed"])
	assert.Equal(t, "boom", doc["stderr"])

	ok := newTestReconciler(newFakeIMCL()).Reconcile(context.Background(), testSpec(), StatePresent, false)
	data, err = json.Marshal(ok)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "error_kind")
}

func TestParseDesiredState(t *testing.T) {
	state, err := ParseDesiredState("Present")
	require.NoError(t, err)
	assert.Equal(t, StatePresent, state)

	state, err = ParseDesiredState("rollback")
	require.NoError(t, err)
	assert.Equal(t, StateRolledBack, state)

	_, err = ParseDesiredState("latest")
	assert.Error(t, err)
}
