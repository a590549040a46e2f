package sharkclient

import "testing"

func TestPoolGetIsCachedPerStorageID(t *testing.T) {
	p := NewPool(testSharkConf(), false, false)

	c1, err := p.Get("shark-1", "shark-1.example.internal:8080")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c2, err := p.Get("shark-1", "shark-1.example.internal:8080")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c1 != c2 {
		t.Fatal("Pool.Get() returned a different *Client for the same storage_id")
	}

	c3, err := p.Get("shark-2", "shark-2.example.internal:8080")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c3 == c1 {
		t.Fatal("Pool.Get() returned the same *Client for a different storage_id")
	}
}

func TestPoolUsesHTTPSScheme(t *testing.T) {
	p := NewPool(testSharkConf(), true, false)
	c, err := p.Get("shark-1", "shark-1.example.internal:8443")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.baseURL.Scheme != "https" {
		t.Fatalf("baseURL.Scheme = %s, want https", c.baseURL.Scheme)
	}
}
