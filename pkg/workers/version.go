package workers

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/proto"
)

// versionHandler answers VERSION_CHECK messages.
type versionHandler struct {
	emitter
}

func (h *versionHandler) HandleMessage(_ context.Context, msg *proto.Message) error {
	req, err := msg.Payload.ExtractVersionCheck()
	if err != nil {
		return payloadError(h.name, err)
	}

	ok, err := Satisfies(req.Installed, req.Constraint)
	if err != nil {
		return err
	}

	verdict := "compatible"
	if !ok {
		verdict = "incompatible"
	}
	h.emit(msg, ok, fmt.Sprintf("%s %s is %s with %s", req.Package, req.Installed, verdict, req.Constraint), "")
	return nil
}

// Satisfies reports whether installed matches constraint. Supported forms are ^X.Y.Z,
// ~X.Y.Z, >=, >, <=, <, =X.Y.Z and a bare version meaning an exact match. A leading "v"
// is optional. Unparseable input is a VALIDATION error.
func Satisfies(installed, constraint string) (bool, error) {
	have, err := canonical(installed)
	if err != nil {
		return false, err
	}

	constraint = strings.TrimSpace(constraint)
	op := ""
	for _, candidate := range []string{">=", "<=", "^", "~", ">", "<", "="} {
		if strings.HasPrefix(constraint, candidate) {
			op = candidate
			break
		}
	}
	want, err := canonical(strings.TrimPrefix(constraint, op))
	if err != nil {
		return false, err
	}

	cmp := semver.Compare(have, want)
	switch op {
	case "^":
		return cmp >= 0 && semver.Compare(have, caretCeiling(want)) < 0, nil
	case "~":
		return cmp >= 0 && semver.MajorMinor(have) == semver.MajorMinor(want), nil
	case ">=":
		return cmp >= 0, nil
	case ">":
		return cmp > 0, nil
	case "<=":
		return cmp <= 0, nil
	case "<":
		return cmp < 0, nil
	default:
		return cmp == 0, nil
	}
}

func canonical(v string) (string, error) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", agenterrors.Validation("version check", "invalid version %q", strings.TrimPrefix(v, "v"))
	}
	return semver.Canonical(v), nil
}

// caretCeiling returns the first version a caret range excludes: the next major, or for
// 0.y.z the next minor, or for 0.0.z the next patch.
func caretCeiling(v string) string {
	var major, minor, patch int
	core := strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	_, _ = fmt.Sscanf(core, "%d.%d.%d", &major, &minor, &patch)

	switch {
	case major > 0:
		return fmt.Sprintf("v%d.0.0", major+1)
	case minor > 0:
		return fmt.Sprintf("v0.%d.0", minor+1)
	default:
		return fmt.Sprintf("v0.0.%d", patch+1)
	}
}
