// internal/orchestrator/setup.go
package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/retry"
)

func (o *Orchestrator) ensureDevice(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
	defer cancel()

	ready, err := o.device.IsDeviceReady(ctx)
	if err != nil {
		return o.fail(st, domain.NodeEnsureDevice, classify("ensure_device", domain.CodeDeviceOffline, err))
	}
	if !ready {
		return o.fail(st, domain.NodeEnsureDevice, domain.NewError(domain.CodeDeviceOffline, "ensure_device", errors.New("device reported not ready")))
	}
	return st.WithUpdates(domain.Record(domain.NodeEnsureDevice, "ready")), domain.NodeProvisionApp
}

func (o *Orchestrator) provisionApp(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
	defer cancel()

	if err := o.device.InstallApp(ctx, st.AppID); err != nil {
		return o.fail(st, domain.NodeProvisionApp, classify("provision_app", domain.CodeActionTimeout, err))
	}
	return st.WithUpdates(domain.Record(domain.NodeProvisionApp, "installed")), domain.NodeLaunchOrAttach
}

// launchOrAttach attaches to the app when it already holds the foreground.
func (o *Orchestrator) launchOrAttach(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
	defer cancel()

	current, err := o.device.GetCurrentApp(ctx)
	if err != nil {
		return o.fail(st, domain.NodeLaunchOrAttach, classify("launch_or_attach", domain.CodeActionTimeout, err))
	}
	if current == st.AppID {
		return st.WithUpdates(domain.Record(domain.NodeLaunchOrAttach, "attached")), domain.NodeWaitIdle
	}
	if err := o.device.LaunchApp(ctx, st.AppID); err != nil {
		return o.fail(st, domain.NodeLaunchOrAttach, classify("launch_or_attach", domain.CodeActionTimeout, err))
	}
	return st.WithUpdates(domain.Record(domain.NodeLaunchOrAttach, "launched")), domain.NodeWaitIdle
}

func (o *Orchestrator) waitIdle(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	stable, err := o.settle(ctx)
	if err != nil {
		return o.fail(st, domain.NodeWaitIdle, err)
	}
	detail := "idle"
	if !stable {
		detail = "still changing"
		o.runLogger(st).Debug("Screen did not settle before the idle timeout", zap.Duration("timeout", o.opts.IdleTimeout))
	}
	return st.WithUpdates(domain.Record(domain.NodeWaitIdle, detail)), domain.NodePerceive
}

// settle polls the page source until two consecutive reads match or the idle
// timeout passes. It reports whether the screen settled. An error is
// returned only when the device failed or not a single read succeeded.
func (o *Orchestrator) settle(ctx context.Context) (bool, *domain.Error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.IdleTimeout)
	defer cancel()

	var (
		last  string
		reads int
	)
	for {
		src, err := o.device.GetPageSource(ctx)
		if err != nil {
			if ctx.Err() != nil && reads > 0 {
				return false, nil
			}
			if ctx.Err() != nil {
				return false, domain.NewError(domain.CodeIdleTimeout, "wait_idle", err)
			}
			return false, classify("wait_idle", domain.CodeIdleTimeout, err)
		}
		if reads > 0 && src == last {
			return true, nil
		}
		last = src
		reads++
		if err := retry.Sleep(ctx, o.opts.IdlePoll); err != nil {
			return false, nil
		}
	}
}
