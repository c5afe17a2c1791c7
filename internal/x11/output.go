package x11

import "github.com/BurntSushi/xgb/randr"

// SurfaceSize is the size new guest surfaces are created with. It prefers
// the CRTC driving the RandR primary output, then the first lit CRTC, then
// the root screen.
func (c *Connection) SurfaceSize() (width, height int) {
	if w, h, ok := c.outputSize(); ok {
		return w, h
	}
	screen := c.XUtil.Screen()
	return int(screen.WidthInPixels), int(screen.HeightInPixels)
}

func (c *Connection) outputSize() (int, int, bool) {
	xc := c.XUtil.Conn()
	if randr.Init(xc) != nil {
		return 0, 0, false
	}
	res, err := randr.GetScreenResourcesCurrent(xc, c.Root).Reply()
	if err != nil {
		return 0, 0, false
	}

	lit := func(crtc randr.Crtc) (int, int, bool) {
		info, err := randr.GetCrtcInfo(xc, crtc, res.ConfigTimestamp).Reply()
		if err != nil || info.Width == 0 || info.Height == 0 || len(info.Outputs) == 0 {
			return 0, 0, false
		}
		return int(info.Width), int(info.Height), true
	}

	if primary, err := randr.GetOutputPrimary(xc, c.Root).Reply(); err == nil && primary.Output != 0 {
		out, err := randr.GetOutputInfo(xc, primary.Output, res.ConfigTimestamp).Reply()
		if err == nil && out.Crtc != 0 {
			if w, h, ok := lit(out.Crtc); ok {
				return w, h, true
			}
		}
	}
	for _, crtc := range res.Crtcs {
		if w, h, ok := lit(crtc); ok {
			return w, h, true
		}
	}
	return 0, 0, false
}
