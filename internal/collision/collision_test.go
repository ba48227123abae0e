package collision

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/nextlevelbuilder/astro/internal/contacts"
	"github.com/nextlevelbuilder/astro/internal/msg"
	"github.com/nextlevelbuilder/astro/internal/vecmath"
)

func contactAt(id uint32, p vecmath.PosVec, v vecmath.Velocity) *contacts.Contact {
	c := contacts.New(vecmath.PosVec{}, 100000)
	c.Update(time.Now(), vecmath.PosVec{}, []msg.Msg{
		msg.Broadcast(msg.NodeDesc{Nid: msg.Nid{id}, P: p, V: v}, msg.EmptyBody()),
	})
	for _, n := range c.Neighbors() {
		return n
	}
	panic("contact not registered")
}

func TestCollisionAvoidance(t *testing.T) {
	Convey("Given a collision avoidance filter for a 0.5m radius UAV", t, func() {
		f := New(0.5)
		vAim := vecmath.Velocity{X: 1}
		pSelf := vecmath.PosVec{}
		now := time.Now()

		Convey("With no neighbors nearby, the aimed velocity passes through unchanged", func() {
			safe := f.GetSafeV(vAim, pSelf, nil, now)
			So(safe, ShouldResemble, vAim)
		})

		Convey("With a neighbor far outside the alert radius", func() {
			far := contactAt(2, vecmath.PosVec{X: 10000}, vecmath.Zero())
			safe := f.GetSafeV(vAim, pSelf, []*contacts.Contact{far}, now)

			Convey("The aimed velocity passes through unchanged", func() {
				So(safe, ShouldResemble, vAim)
			})
		})

		Convey("With a single neighbor directly ahead and very close", func() {
			danger := contactAt(2, vecmath.PosVec{X: 0.1}, vecmath.Zero())
			safe := f.GetSafeV(vAim, pSelf, []*contacts.Contact{danger}, now)

			Convey("It strips the velocity component flying toward the danger", func() {
				So(safe.X, ShouldBeLessThan, vAim.X)
			})
		})

		Convey("With a neighbor directly behind the direction of travel", func() {
			behind := contactAt(2, vecmath.PosVec{X: -1}, vecmath.Zero())
			safe := f.GetSafeV(vAim, pSelf, []*contacts.Contact{behind}, now)

			Convey("The forward component of motion is left untouched", func() {
				So(safe.X, ShouldEqual, vAim.X)
			})
		})

		Convey("With more neighbors than the modest danger count", func() {
			many := []*contacts.Contact{
				contactAt(2, vecmath.PosVec{X: 1}, vecmath.Velocity{X: -1}),
				contactAt(3, vecmath.PosVec{X: 1.5}, vecmath.Velocity{X: -1}),
				contactAt(4, vecmath.PosVec{X: 2}, vecmath.Velocity{X: -1}),
			}
			safe := f.GetSafeV(vAim, pSelf, many, now)

			Convey("The result stays a finite, bounded velocity", func() {
				So(safe.Norm(), ShouldBeLessThan, 100)
			})
		})
	})
}

func TestPickDangers_SortedByDistance(t *testing.T) {
	Convey("Given neighbors at varying distances within alert range", t, func() {
		f := New(0.5)
		near := contactAt(2, vecmath.PosVec{X: 2}, vecmath.Zero())
		far := contactAt(3, vecmath.PosVec{X: 4}, vecmath.Zero())
		now := time.Now()

		Convey("pickDangers orders nearest first", func() {
			dangers := f.pickDangers(vecmath.Velocity{X: 1}, vecmath.PosVec{}, []*contacts.Contact{far, near}, now)
			So(len(dangers), ShouldEqual, 2)
			So(dangers[0], ShouldEqual, near)
			So(dangers[1], ShouldEqual, far)
		})
	})
}
