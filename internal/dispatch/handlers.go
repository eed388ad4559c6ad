package dispatch

import (
	"context"
	"errors"
	"fmt"

	"hackohio/miniui/internal/metrics"
	"hackohio/miniui/internal/validate"
	"hackohio/miniui/pkg/procexec"
)

func (d *Dispatcher) status(ctx context.Context, _ map[string]any) (Reply, error) {
	return Reply(d.facts.Collect().Payload()), nil
}

func (d *Dispatcher) applyLAN(ctx context.Context, fields map[string]any) (Reply, error) {
	args, err := validate.ApplyLAN(fields)
	if err != nil {
		return nil, err
	}
	argv, err := d.router.render(MethodApplyLAN, map[string]string{
		"ipaddr":  args.IPAddr,
		"netmask": args.Netmask,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return d.runSynchronous(ctx, argv)
}

func (d *Dispatcher) reloadNetwork(ctx context.Context, _ map[string]any) (Reply, error) {
	argv, err := d.router.render(MethodReloadNetwork, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return d.runSynchronous(ctx, argv)
}

func (d *Dispatcher) sysupgrade(ctx context.Context, fields map[string]any) (Reply, error) {
	args, err := validate.Sysupgrade(fields, d.scratchDir)
	if err != nil {
		return nil, err
	}
	argv, err := d.router.render(MethodSysupgrade, map[string]string{
		"keep":   args.KeepFlag(),
		"source": args.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	_, err = d.exec.RunDetached(ctx, argv[0], argv[1:])
	metrics.RecordExec(procexec.Detached.String(), execResult(0, err))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	return Reply{"status": "running"}, nil
}

func (d *Dispatcher) runSynchronous(ctx context.Context, argv []string) (Reply, error) {
	code, err := d.exec.RunSynchronous(ctx, argv[0], argv[1:])
	metrics.RecordExec(procexec.Synchronous.String(), execResult(code, err))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("%w: %s exited with status %d", ErrExecutionFailed, argv[0], code)
	}
	return Reply{"status": "ok"}, nil
}

func execResult(code int, err error) string {
	switch {
	case errors.Is(err, procexec.ErrAbnormalTermination):
		return "abnormal"
	case errors.Is(err, procexec.ErrSpawnFailed):
		return "spawn_failed"
	case err != nil:
		return "error"
	case code != 0:
		return "nonzero"
	default:
		return "ok"
	}
}
