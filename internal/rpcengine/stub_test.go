package rpcengine

import "testing"

func TestClassify_DetectionTable(t *testing.T) {
	cases := []struct {
		name  string
		shape ImportShape
		want  StubKind
	}{
		{"constructor", ImportShape{ResourceName: "X", IsConstructor: true}, StubConstructor},
		{"custom constructor via target", ImportShape{ResourceName: "X", IsConstructor: true, TargetIsUserSupplied: true}, StubCustomConstructor},
		{"custom static method", ImportShape{ResourceName: "X", IsStatic: true, MethodName: "custom"}, StubCustomConstructor},
		{"blocking method", ImportShape{ResourceName: "X", MethodName: "m", HasSelf: true, HasResult: true}, StubBlockingMethod},
		{"explicit blocking-m", ImportShape{ResourceName: "X", MethodName: "blocking-m", HasSelf: true, HasResult: true}, StubBlockingMethod},
		{"async via future-result", ImportShape{ResourceName: "X", MethodName: "m", HasSelf: true, HasResult: true, ReturnsFutureResult: true}, StubAsyncMethod},
		{"fire and forget", ImportShape{ResourceName: "X", MethodName: "m", HasSelf: true, HasResult: false}, StubFireAndForget},
		{"scheduled", ImportShape{ResourceName: "X", MethodName: "schedule-m", HasSelf: true, HasResult: true}, StubScheduledMethod},
		{"future poll", ImportShape{ResourceName: "future-invoke-result", MethodName: "subscribe"}, StubFutureResult},
		{"future get", ImportShape{ResourceName: "future-invoke-result", MethodName: "get"}, StubFutureResult},
		{"drop", ImportShape{ResourceName: "X", MethodName: "drop"}, StubResourceDrop},
		{"unclassifiable", ImportShape{ResourceName: "X", MethodName: "m"}, StubUnknown},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.shape); got != c.want {
				t.Errorf("Classify(%+v) = %v, want %v", c.shape, got, c.want)
			}
		})
	}
}
