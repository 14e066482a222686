package protocol

import "github.com/qowoz/hercules-ci-agent/buildtask"

// Command tags (spec §6).
const (
	tagBuild uint8 = 0x01
)

// EncodeCommand renders a Command into a frame payload: tag byte followed
// by variant-specific body.
func EncodeCommand(c buildtask.Command) []byte {
	w := &writer{}
	switch {
	case c.Build != nil:
		w.u8(tagBuild)
		w.str(c.Build.DrvPath)
		w.strList(c.Build.InputPaths)
		w.str(c.Build.LogSettings.Token)
		w.str(c.Build.LogSettings.Path)
		w.str(c.Build.LogSettings.Host)
	default:
		panic("protocol: EncodeCommand called with an empty Command")
	}
	return w.bytes()
}

// DecodeCommand parses a Command frame payload.
func DecodeCommand(payload []byte) (buildtask.Command, error) {
	const op = "decode command"
	r := newReader(op, payload)

	tag, err := r.u8()
	if err != nil {
		return buildtask.Command{}, err
	}

	switch tag {
	case tagBuild:
		drvPath, err := r.str()
		if err != nil {
			return buildtask.Command{}, err
		}
		inputPaths, err := r.strList()
		if err != nil {
			return buildtask.Command{}, err
		}
		token, err := r.str()
		if err != nil {
			return buildtask.Command{}, err
		}
		path, err := r.str()
		if err != nil {
			return buildtask.Command{}, err
		}
		host, err := r.str()
		if err != nil {
			return buildtask.Command{}, err
		}
		if err := r.finish(); err != nil {
			return buildtask.Command{}, err
		}
		return buildtask.Command{
			Build: &buildtask.BuildCommand{
				DrvPath:    drvPath,
				InputPaths: inputPaths,
				LogSettings: buildtask.LogSettings{
					Token: token,
					Path:  path,
					Host:  host,
				},
			},
		}, nil

	default:
		return buildtask.Command{}, unknownTag(op, tag)
	}
}
