package viz

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mpctrack/mpc"
	"mpctrack/roadmap"
)

func TestRenderSmoke(t *testing.T) {

	road, err := roadmap.Load(strings.NewReader("0,0\n1,0\n2,0\n3,0.1"), roadmap.AbortOnMalformed)
	if err != nil {
		t.Fatal("TestRenderSmoke: Load Failed:", err)
	}

	traj := mpc.Trajectory{
		{X: 0, Y: 0},
		{X: 1, Y: 0.05},
		{X: 2, Y: 0.08},
	}

	path := filepath.Join(t.TempDir(), "track.png")
	if err := Render(road, traj, 0, 0, 0, path); err != nil {
		t.Fatal("TestRenderSmoke: Render Failed:", err)
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatal("TestRenderSmoke: No Output Written")
	}

}
