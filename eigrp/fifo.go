package eigrp

import (
	"container/list"
	"net/netip"
)

// queuedPacket is a sequenced packet waiting for an acknowledgment.
type queuedPacket struct {
	pkt         *Packet
	dst         netip.Addr
	retransmits int
	sent        bool
}

func (qp *queuedPacket) seq() uint32 {
	return qp.pkt.Sequence
}

// packetQueue is an ordered queue of sequenced packets. Packets are appended
// at the tail and can be removed from any position by sequence number.
type packetQueue struct {
	l     list.List
	bySeq map[uint32]*list.Element
}

func newPacketQueue() *packetQueue {
	return &packetQueue{bySeq: make(map[uint32]*list.Element)}
}

func (q *packetQueue) Len() int {
	return q.l.Len()
}

func (q *packetQueue) push(qp *queuedPacket) {
	if _, ok := q.bySeq[qp.seq()]; ok {
		return
	}
	q.bySeq[qp.seq()] = q.l.PushBack(qp)
}

// pushFront puts qp ahead of everything else in the queue.
func (q *packetQueue) pushFront(qp *queuedPacket) {
	if _, ok := q.bySeq[qp.seq()]; ok {
		return
	}
	q.bySeq[qp.seq()] = q.l.PushFront(qp)
}

func (q *packetQueue) front() *queuedPacket {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*queuedPacket)
}

func (q *packetQueue) pop() *queuedPacket {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	qp := q.l.Remove(e).(*queuedPacket)
	delete(q.bySeq, qp.seq())
	return qp
}

func (q *packetQueue) get(seq uint32) *queuedPacket {
	e, ok := q.bySeq[seq]
	if !ok {
		return nil
	}
	return e.Value.(*queuedPacket)
}

// remove removes the packet with sequence number seq, wherever it is in the
// queue. It returns nil if there is no such packet.
func (q *packetQueue) remove(seq uint32) *queuedPacket {
	e, ok := q.bySeq[seq]
	if !ok {
		return nil
	}
	delete(q.bySeq, seq)
	return q.l.Remove(e).(*queuedPacket)
}

// packets returns the queued packets from head to tail.
func (q *packetQueue) packets() []*queuedPacket {
	pkts := make([]*queuedPacket, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		pkts = append(pkts, e.Value.(*queuedPacket))
	}
	return pkts
}

func (q *packetQueue) clear() {
	q.l.Init()
	clear(q.bySeq)
}
